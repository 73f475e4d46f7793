package syncer

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"hash/crc32"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"telegram-bdintel/internal/infra/storage"
)

// CSVSink пишет каждую таблицу в отдельный CSV-файл каталога. Рядом с каждым
// файлом живёт сайдкар с контрольными суммами выгруженных строк: по ним
// распознаются внешние правки файла между прогонами.
type CSVSink struct {
	dir string
	mu  sync.Mutex
}

// NewCSVSink создаёт назначение в каталоге dir (создаётся при необходимости).
func NewCSVSink(dir string) (*CSVSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("csv sink: directory is empty")
	}
	if err := os.MkdirAll(dir, storage.DefaultDirPerm); err != nil {
		return nil, errors.Wrap(err, "csv sink: ensure directory")
	}
	return &CSVSink{dir: dir}, nil
}

func (s *CSVSink) Name() string { return "csv:" + s.dir }

func (s *CSVSink) tablePath(table string) string {
	return filepath.Join(s.dir, table+".csv")
}

func (s *CSVSink) metaPath(table string) string {
	return filepath.Join(s.dir, table+".meta.json")
}

// rowChecksum — контрольная сумма строки в том виде, в котором она выгружена.
func rowChecksum(row []string) string {
	sum := crc32.ChecksumIEEE([]byte(strings.Join(row, "\x1f")))
	return strconv.FormatUint(uint64(sum), 16)
}

// ReplaceTable перезаписывает файл таблицы целиком и перестраивает сайдкар.
func (s *CSVSink) ReplaceTable(_ context.Context, table string, header []string, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	checksums := make(map[string]string, len(rows))
	for _, row := range rows {
		if len(row) > 0 {
			checksums[row[0]] = rowChecksum(row)
		}
	}
	if err := s.writeTable(table, header, rows); err != nil {
		return err
	}
	return s.writeMeta(table, checksums)
}

// UpsertRow обновляет одну строку по ключу. Если текущее содержимое строки не
// совпадает с последней выгрузкой, строка считается правленной извне:
// запись не выполняется, возвращается конфликт со временем правки файла.
func (s *CSVSink) UpsertRow(_ context.Context, table string, header []string, key string, row []string) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readTable(table)
	if err != nil {
		return UpsertResult{}, err
	}
	checksums, err := s.readMeta(table)
	if err != nil {
		return UpsertResult{}, err
	}

	if len(records) == 0 {
		records = [][]string{header}
	}

	found := false
	for idx := 1; idx < len(records); idx++ {
		if len(records[idx]) == 0 || records[idx][0] != key {
			continue
		}
		if recorded, tracked := checksums[key]; tracked && recorded != rowChecksum(records[idx]) {
			return UpsertResult{
				Conflict:         true,
				ExternalModified: s.fileModTime(table),
			}, nil
		}
		records[idx] = row
		found = true
		break
	}
	if !found {
		records = append(records, row)
	}

	if err = s.writeTable(table, records[0], records[1:]); err != nil {
		return UpsertResult{}, err
	}
	checksums[key] = rowChecksum(row)
	return UpsertResult{}, s.writeMeta(table, checksums)
}

// DeleteRow удаляет строку по ключу; отсутствие файла или строки — не ошибка.
func (s *CSVSink) DeleteRow(_ context.Context, table string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readTable(table)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	checksums, err := s.readMeta(table)
	if err != nil {
		return err
	}

	kept := records[:1]
	for _, rec := range records[1:] {
		if len(rec) > 0 && rec[0] == key {
			continue
		}
		kept = append(kept, rec)
	}
	if len(kept) == len(records) {
		return nil
	}

	if err = s.writeTable(table, kept[0], kept[1:]); err != nil {
		return err
	}
	delete(checksums, key)
	return s.writeMeta(table, checksums)
}

func (s *CSVSink) readTable(table string) ([][]string, error) {
	data, err := os.ReadFile(s.tablePath(table))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "csv sink: read table")
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "csv sink: parse %s", table)
	}
	return records, nil
}

func (s *CSVSink) writeTable(table string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "csv sink: write header")
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return errors.Wrap(err, "csv sink: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "csv sink: flush")
	}
	return errors.Wrap(storage.AtomicWriteFile(s.tablePath(table), buf.Bytes()), "csv sink: save table")
}

func (s *CSVSink) readMeta(table string) (map[string]string, error) {
	data, err := os.ReadFile(s.metaPath(table))
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "csv sink: read meta")
	}
	var checksums map[string]string
	if err = json.Unmarshal(data, &checksums); err != nil {
		// Битый сайдкар не блокирует выгрузку: история сумм начинается заново.
		return map[string]string{}, nil
	}
	if checksums == nil {
		checksums = map[string]string{}
	}
	return checksums, nil
}

func (s *CSVSink) writeMeta(table string, checksums map[string]string) error {
	data, err := json.MarshalIndent(checksums, "", "  ")
	if err != nil {
		return errors.Wrap(err, "csv sink: marshal meta")
	}
	return errors.Wrap(storage.AtomicWriteFile(s.metaPath(table), data), "csv sink: save meta")
}

func (s *CSVSink) fileModTime(table string) time.Time {
	info, err := os.Stat(s.tablePath(table))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime().UTC()
}
