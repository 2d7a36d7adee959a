// Пакет blobstore — операции с blob-файлами (содержимым объектов) на диске.
// Каждый blob хранится отдельным файлом {id}{ext} в корневой директории.
// Запись атомарная, чтение и удаление — по имени blob.
package blobstore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// tmpSuffix — суффикс временных файлов незавершённой записи.
const tmpSuffix = ".tmp"

// maxExtLen — максимальная длина расширения (без точки).
const maxExtLen = 16

var (
	// ErrNotFound — blob не существует.
	ErrNotFound = errors.New("blob не найден")
	// ErrInvalidName — имя blob не является простым именем файла.
	ErrInvalidName = errors.New("недопустимое имя blob")
	// ErrIO — ошибка ввода-вывода (нет прав, нет места на диске и т.д.).
	ErrIO = errors.New("ошибка ввода-вывода blob-хранилища")
	// ErrTooLarge — данные длиннее лимита Put.
	ErrTooLarge = errors.New("данные превышают лимит размера")
	// ErrSource — ошибка чтения входного потока (обрыв, повреждённое тело).
	ErrSource = errors.New("ошибка чтения входных данных")
)

// BlobStore — управление blob-файлами на диске.
type BlobStore struct {
	// dir — корневая директория хранения (UPLOAD_DIR)
	dir string
}

// PutResult — результат записи blob на диск.
type PutResult struct {
	// StoredName — имя blob-файла в dir
	StoredName string
	// Size — количество записанных байт
	Size int64
}

// New создаёт BlobStore. Создаёт директорию, если она не существует.
func New(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранения %s: %w", dir, err)
	}

	return &BlobStore{dir: dir}, nil
}

// Put записывает данные из reader в blob {id}{ext}.
// maxSize > 0 ограничивает размер: более длинный поток отклоняется
// ошибкой ErrTooLarge до переименования temp файла.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется, blob не создаётся.
func (s *BlobStore) Put(reader io.Reader, id, ext string, maxSize int64) (*PutResult, error) {
	storedName := StoredName(id, ext)
	if err := ValidName(storedName); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(s.dir, storedName)
	tmpPath := fullPath + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, fmt.Errorf("%w: создание временного файла: %w", ErrIO, err)
	}
	discard := func() {
		f.Close()
		os.Remove(tmpPath)
	}

	src := &sourceReader{r: reader}
	if maxSize > 0 {
		// +1 байт: превышение видно по количеству записанного
		src.r = io.LimitReader(reader, maxSize+1)
	}

	size, err := io.Copy(f, src)
	if err != nil {
		discard()
		if src.err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSource, src.err)
		}
		return nil, fmt.Errorf("%w: запись данных: %w", ErrIO, err)
	}

	if maxSize > 0 && size > maxSize {
		discard()
		return nil, fmt.Errorf("%w: больше %d байт", ErrTooLarge, maxSize)
	}

	if err := f.Sync(); err != nil {
		discard()
		return nil, fmt.Errorf("%w: fsync: %w", ErrIO, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: закрытие файла: %w", ErrIO, err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: атомарное переименование: %w", ErrIO, err)
	}

	return &PutResult{
		StoredName: storedName,
		Size:       size,
	}, nil
}

// sourceReader запоминает ошибку чтения, отличную от io.EOF,
// чтобы отделить сбой клиента от сбоя диска.
type sourceReader struct {
	r   io.Reader
	err error
}

func (sr *sourceReader) Read(p []byte) (int, error) {
	n, err := sr.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		sr.err = err
	}
	return n, err
}

// Get читает blob целиком.
func (s *BlobStore) Get(storedName string) ([]byte, error) {
	if err := ValidName(storedName); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, storedName))
	if err != nil {
		return nil, mapErr("чтение", storedName, err)
	}
	return data, nil
}

// Open открывает blob для потокового чтения.
// Вызывающий код обязан закрыть файл.
func (s *BlobStore) Open(storedName string) (*os.File, error) {
	if err := ValidName(storedName); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(s.dir, storedName))
	if err != nil {
		return nil, mapErr("открытие", storedName, err)
	}
	return f, nil
}

// Delete удаляет blob с диска.
// Повторное удаление — ошибка ErrNotFound, операция не идемпотентна.
func (s *BlobStore) Delete(storedName string) error {
	if err := ValidName(storedName); err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.dir, storedName)); err != nil {
		return mapErr("удаление", storedName, err)
	}
	return nil
}

// Exists проверяет существование blob на диске.
func (s *BlobStore) Exists(storedName string) bool {
	if ValidName(storedName) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.dir, storedName))
	return err == nil && info.Mode().IsRegular()
}

// Size возвращает размер blob на диске.
func (s *BlobStore) Size(storedName string) (int64, error) {
	if err := ValidName(storedName); err != nil {
		return 0, err
	}

	info, err := os.Stat(filepath.Join(s.dir, storedName))
	if err != nil {
		return 0, mapErr("stat", storedName, err)
	}
	return info.Size(), nil
}

// Names возвращает имена всех файлов в директории хранения,
// кроме служебных (скрытых) и временных.
// Не рекурсивный.
func (s *BlobStore) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение директории %s: %w", ErrIO, s.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// RemoveStaleTemp удаляет временные файлы старше olderThan.
// Такие файлы остаются после аварийного завершения посреди записи.
// Возвращает количество удалённых файлов.
func (s *BlobStore) RemoveStaleTemp(olderThan time.Duration) (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+tmpSuffix))
	if err != nil {
		return 0, fmt.Errorf("сканирование временных файлов: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// Dir возвращает путь к директории хранения.
func (s *BlobStore) Dir() string {
	return s.dir
}

// StoredName формирует имя blob-файла: {id}{ext}.
func StoredName(id, ext string) string {
	return id + ext
}

// Extension извлекает расширение из имени файла клиента.
// Возвращает расширение в нижнем регистре с точкой (".txt") или пустую строку.
// Оставляет только латинские буквы и цифры, длина ограничена.
func Extension(originalName string) string {
	dot := strings.LastIndex(originalName, ".")
	if dot == -1 {
		return ""
	}

	var b strings.Builder
	for _, r := range originalName[dot+1:] {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}

	ext := strings.ToLower(b.String())
	if len(ext) > maxExtLen {
		ext = ext[:maxExtLen]
	}
	// Суффикс .tmp зарезервирован для незавершённой записи
	if "."+ext == tmpSuffix {
		return ""
	}
	return "." + ext
}

// ValidName проверяет, что имя blob — простое имя файла внутри
// директории хранения (без разделителей пути и служебных префиксов).
func ValidName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// mapErr преобразует ошибку файловой системы в ошибку пакета.
func mapErr(op, storedName string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, storedName)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrIO, op, storedName, err)
}
