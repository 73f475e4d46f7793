package ingest

import (
	"testing"

	"github.com/gotd/td/tg"

	"telegram-bdintel/internal/store"
)

func TestNormalizeDialogsResponse(t *testing.T) {
	t.Parallel()

	full := &tg.MessagesDialogs{Dialogs: []tg.DialogClass{&tg.Dialog{}}}
	got, err := normalizeDialogsResponse(full)
	if err != nil || len(got.Dialogs) != 1 {
		t.Fatalf("full response: %v, %v", got, err)
	}

	slice := &tg.MessagesDialogsSlice{
		Dialogs:  []tg.DialogClass{&tg.Dialog{}, &tg.Dialog{}},
		Messages: []tg.MessageClass{&tg.Message{ID: 1}},
	}
	got, err = normalizeDialogsResponse(slice)
	if err != nil || len(got.Dialogs) != 2 || len(got.Messages) != 1 {
		t.Fatalf("slice response: %v, %v", got, err)
	}

	if _, err = normalizeDialogsResponse(&tg.MessagesDialogsNotModified{}); err == nil {
		t.Fatal("not-modified response must surface sentinel error")
	}
}

func TestDialogPeerToInput(t *testing.T) {
	t.Parallel()

	userHashes := map[int64]int64{5: 555}
	channelHashes := map[int64]int64{9: 999}

	in := dialogPeerToInput(&tg.PeerUser{UserID: 5}, userHashes, channelHashes)
	user, ok := in.(*tg.InputPeerUser)
	if !ok || user.AccessHash != 555 {
		t.Errorf("user input peer = %#v", in)
	}

	in = dialogPeerToInput(&tg.PeerChannel{ChannelID: 9}, userHashes, channelHashes)
	channel, ok := in.(*tg.InputPeerChannel)
	if !ok || channel.AccessHash != 999 {
		t.Errorf("channel input peer = %#v", in)
	}

	if _, ok = dialogPeerToInput(&tg.PeerChat{ChatID: 3}, userHashes, channelHashes).(*tg.InputPeerChat); !ok {
		t.Error("chat peer must map to InputPeerChat")
	}
}

func TestAppendDialogsSkipsFoldersAndUnknownChannels(t *testing.T) {
	t.Parallel()

	page := &tg.MessagesDialogs{
		Dialogs: []tg.DialogClass{
			&tg.Dialog{Peer: &tg.PeerUser{UserID: 5}},
			&tg.Dialog{Peer: &tg.PeerChat{ChatID: 30}},
			&tg.Dialog{Peer: &tg.PeerChannel{ChannelID: 77}}, // access_hash неизвестен
			&tg.DialogFolder{},
		},
		Users: []tg.UserClass{&tg.User{ID: 5, FirstName: "Alice", AccessHash: 555}},
		Chats: []tg.ChatClass{&tg.Chat{ID: 30, Title: "Founders"}},
	}

	b := &dialogBatch{}
	userHashes := map[int64]int64{5: 555}
	b.appendDialogs(page, userHashes, map[int64]int64{})

	if len(b.dialogs) != 2 {
		t.Fatalf("dialogs = %d, want 2 (folder and unknown channel skipped)", len(b.dialogs))
	}
	if b.dialogs[0].Kind != "user" || b.dialogs[0].ChatID != 5 || b.dialogs[0].Title != "Alice" {
		t.Errorf("user dialog = %+v", b.dialogs[0])
	}
	if b.dialogs[1].Kind != "chat" || b.dialogs[1].Title != "Founders" {
		t.Errorf("chat dialog = %+v", b.dialogs[1])
	}
}

func TestChatRowsFromEntities(t *testing.T) {
	t.Parallel()

	batch := &dialogBatch{
		dialogs: []Dialog{
			{Kind: "user", ChatID: 5},
			{Kind: "chat", ChatID: 30},
			{Kind: "channel", ChatID: 40},
		},
		users: []tg.UserClass{
			&tg.User{ID: 5, Username: "alice", FirstName: "Alice"},
			&tg.User{ID: 5, Username: "alice", FirstName: "Alice"}, // дубликат страницы
			&tg.User{ID: 6, Username: "bob"},
		},
		chats: []tg.ChatClass{
			&tg.Chat{ID: 30, Title: "Founders"},
			&tg.Channel{ID: 40, Title: "Deals", Megagroup: true},
		},
	}

	contacts, chats := chatRowsFromEntities(batch)
	if len(contacts) != 2 {
		t.Fatalf("contacts = %d, want 2 (dedup by id)", len(contacts))
	}
	if len(chats) != 3 {
		t.Fatalf("chats = %d, want 3", len(chats))
	}
	if chats[0].ChatType != store.ChatTypePrivate || chats[0].ChatID != 5 {
		t.Errorf("private chat = %+v", chats[0])
	}
	if chats[1].ChatType != store.ChatTypeGroup {
		t.Errorf("group chat = %+v", chats[1])
	}
	if chats[2].ChatType != store.ChatTypeSupergroup {
		t.Errorf("supergroup chat = %+v", chats[2])
	}
}

func TestMessageDate(t *testing.T) {
	t.Parallel()
	messages := []tg.MessageClass{
		&tg.Message{ID: 10, Date: 111},
		&tg.MessageService{ID: 11, Date: 222},
	}
	if got := messageDate(messages, 11); got != 222 {
		t.Errorf("service message date = %d, want 222", got)
	}
	if got := messageDate(messages, 99); got != 0 {
		t.Errorf("missing message date = %d, want 0", got)
	}
}
