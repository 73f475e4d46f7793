package timeutil_test

import (
	"testing"
	"time"

	"telegram-bdintel/internal/infra/timeutil"
)

func TestParseClock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value   string
		hour    int
		minute  int
		wantErr bool
	}{
		{value: "03:00", hour: 3, minute: 0},
		{value: "23:59", hour: 23, minute: 59},
		{value: "00:00", hour: 0, minute: 0},
		{value: "24:00", wantErr: true},
		{value: "12:60", wantErr: true},
		{value: "3:00", wantErr: true},
		{value: "", wantErr: true},
		{value: "ab:cd", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.value, func(t *testing.T) {
			t.Parallel()

			hour, minute, err := timeutil.ParseClock(tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseClock(%q) = (%d, %d), want error", tc.value, hour, minute)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q) error: %v", tc.value, err)
			}
			if hour != tc.hour || minute != tc.minute {
				t.Fatalf("ParseClock(%q) = (%d, %d), want (%d, %d)", tc.value, hour, minute, tc.hour, tc.minute)
			}
		})
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()

	loc := time.UTC
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, loc)

	// Время ещё впереди сегодня.
	got := timeutil.NextOccurrence(now, 11, 0, loc)
	want := time.Date(2024, 6, 1, 11, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextOccurrence future = %v, want %v", got, want)
	}

	// Время уже прошло — следующий день.
	got = timeutil.NextOccurrence(now, 3, 0, loc)
	want = time.Date(2024, 6, 2, 3, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextOccurrence past = %v, want %v", got, want)
	}

	// Ровно текущая минута трактуется как прошедшая.
	got = timeutil.NextOccurrence(now, 10, 30, loc)
	want = time.Date(2024, 6, 2, 10, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextOccurrence now = %v, want %v", got, want)
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()

	if _, err := timeutil.ParseLocation("UTC+3"); err != nil {
		t.Fatalf("ParseLocation(UTC+3) error: %v", err)
	}
	if _, err := timeutil.ParseLocation("Europe/Moscow"); err != nil {
		t.Fatalf("ParseLocation(Europe/Moscow) error: %v", err)
	}
	if _, err := timeutil.ParseLocation("nonsense/zone"); err == nil {
		t.Fatal("ParseLocation(nonsense) expected error")
	}
}
