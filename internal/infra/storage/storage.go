// Package storage — утилиты безопасной работы с локальными файлами данных.
// Здесь живут EnsureDir и AtomicWriteFile: ими пользуются хранилище ключа,
// файл MTProto-сессии и pid-файл, где частично записанный файл недопустим.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"telegram-bdintel/internal/infra/logger"
)

// DefaultFilePerm — права на итоговые файлы с чувствительными данными.
// 0o600 ограничивает доступ владельцем процесса.
const DefaultFilePerm = 0o600

// DefaultDirPerm — права на создаваемые каталоги данных.
const DefaultDirPerm = 0o700

// EnsureDir гарантирует наличие каталога для указанного файла.
// Для путей без директории ("." или пустая строка) ничего не делает.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает байты в файл path.
//
// Схема: temp в той же директории → write → fsync(temp) → chmod → close →
// rename → fsync(dir). Либо старый файл остаётся цел, либо новый записан
// полностью. os.Rename атомарен только в пределах одного файлового тома;
// fsync каталога — best-effort (часть ОС/ФС его игнорирует).
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = tmp.Chmod(DefaultFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// На POSIX rename поверх существующего файла атомарен в пределах тома.
	if err = os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, dirErr := os.Open(dir); dirErr == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}
