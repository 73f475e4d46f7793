package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Оформление строки заголовка: жирный шрифт на сером фоне.
var headerBackground = &sheets.Color{Red: 0.85, Green: 0.85, Blue: 0.85}

// SheetsSink пишет таблицы в листы одного документа Google Sheets от имени
// сервисного аккаунта. Точечная запись ищет строку по значению первой колонки.
//
// Внешние правки документ не версионирует построчно, поэтому конфликт здесь
// не распознаётся; построчный контроль правок есть только у CSV-назначения.
type SheetsSink struct {
	srv           *sheets.Service
	spreadsheetID string

	mu       sync.Mutex
	sheetIDs map[string]int64 // title → sheetId
}

// NewSheetsSink подключается к документу через файл сервисного аккаунта.
func NewSheetsSink(ctx context.Context, spreadsheetID, credentialsFile string) (*SheetsSink, error) {
	srv, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, errors.Wrap(classifySheetsError(err), "sheets service")
	}
	return &SheetsSink{
		srv:           srv,
		spreadsheetID: spreadsheetID,
		sheetIDs:      make(map[string]int64),
	}, nil
}

func (s *SheetsSink) Name() string { return "sheets:" + s.spreadsheetID }

// classifySheetsError переводит отказ в правах в ErrAuthSink: такие ошибки
// не ретраятся и приостанавливают синхронизацию до вмешательства оператора.
func classifySheetsError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return errors.Wrapf(ErrAuthSink, "%v", apiErr)
	}
	return err
}

// ReplaceTable очищает лист и записывает заголовок со строками заново.
func (s *SheetsSink) ReplaceTable(ctx context.Context, table string, header []string, rows [][]string) error {
	sheetID, err := s.ensureSheet(ctx, table)
	if err != nil {
		return err
	}

	if _, err = s.srv.Spreadsheets.Values.
		Clear(s.spreadsheetID, table, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return errors.Wrap(classifySheetsError(err), "clear sheet")
	}

	values := make([][]interface{}, 0, len(rows)+1)
	values = append(values, toCells(header))
	for _, row := range rows {
		values = append(values, toCells(row))
	}
	if _, err = s.srv.Spreadsheets.Values.
		Update(s.spreadsheetID, table+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return errors.Wrap(classifySheetsError(err), "write sheet")
	}

	return s.formatHeader(ctx, sheetID)
}

// UpsertRow обновляет строку с ключом key или добавляет её в конец листа.
func (s *SheetsSink) UpsertRow(ctx context.Context, table string, header []string, key string, row []string) (UpsertResult, error) {
	if _, err := s.ensureSheet(ctx, table); err != nil {
		return UpsertResult{}, err
	}

	rowIndex, err := s.findRow(ctx, table, key)
	if err != nil {
		return UpsertResult{}, err
	}

	value := &sheets.ValueRange{Values: [][]interface{}{toCells(row)}}
	if rowIndex == 0 {
		_, err = s.srv.Spreadsheets.Values.
			Append(s.spreadsheetID, table, value).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
	} else {
		_, err = s.srv.Spreadsheets.Values.
			Update(s.spreadsheetID, fmt.Sprintf("%s!A%d", table, rowIndex), value).
			ValueInputOption("RAW").
			Context(ctx).Do()
	}
	if err != nil {
		return UpsertResult{}, errors.Wrap(classifySheetsError(err), "upsert row")
	}
	return UpsertResult{}, nil
}

// DeleteRow убирает строку с ключом key; отсутствие строки — не ошибка.
func (s *SheetsSink) DeleteRow(ctx context.Context, table string, key string) error {
	sheetID, err := s.ensureSheet(ctx, table)
	if err != nil {
		return err
	}
	rowIndex, err := s.findRow(ctx, table, key)
	if err != nil || rowIndex == 0 {
		return err
	}

	_, err = s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowIndex - 1),
					EndIndex:   int64(rowIndex),
				},
			},
		}},
	}).Context(ctx).Do()
	return errors.Wrap(classifySheetsError(err), "delete row")
}

// findRow возвращает номер строки (1-базный) с ключом key в первой колонке;
// 0 — строка не найдена. Первая строка листа — заголовок.
func (s *SheetsSink) findRow(ctx context.Context, table, key string) (int, error) {
	resp, err := s.srv.Spreadsheets.Values.
		Get(s.spreadsheetID, table+"!A:A").
		Context(ctx).Do()
	if err != nil {
		return 0, errors.Wrap(classifySheetsError(err), "read key column")
	}
	for idx, row := range resp.Values {
		if idx == 0 || len(row) == 0 {
			continue
		}
		if cell, ok := row[0].(string); ok && strings.TrimSpace(cell) == key {
			return idx + 1, nil
		}
	}
	return 0, nil
}

// ensureSheet возвращает sheetId листа table, создавая лист при необходимости.
func (s *SheetsSink) ensureSheet(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	if id, ok := s.sheetIDs[table]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	doc, err := s.srv.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, errors.Wrap(classifySheetsError(err), "get spreadsheet")
	}
	for _, sheet := range doc.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == table {
			s.cacheSheetID(table, sheet.Properties.SheetId)
			return sheet.Properties.SheetId, nil
		}
	}

	resp, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{Title: table},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, errors.Wrap(classifySheetsError(err), "add sheet")
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, errors.New("add sheet: empty reply")
	}
	id := resp.Replies[0].AddSheet.Properties.SheetId
	s.cacheSheetID(table, id)
	return id, nil
}

func (s *SheetsSink) cacheSheetID(table string, id int64) {
	s.mu.Lock()
	s.sheetIDs[table] = id
	s.mu.Unlock()
}

// formatHeader делает первую строку листа жирной на фиксированном фоне.
func (s *SheetsSink) formatHeader(ctx context.Context, sheetID int64) error {
	_, err := s.srv.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:       sheetID,
					StartRowIndex: 0,
					EndRowIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: headerBackground,
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		}},
	}).Context(ctx).Do()
	return errors.Wrap(classifySheetsError(err), "format header")
}

func toCells(row []string) []interface{} {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	return cells
}
