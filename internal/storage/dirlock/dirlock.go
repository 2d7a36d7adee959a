// Пакет dirlock — эксклюзивное владение директорией хранения через flock().
//
// Индекс metadata.json переписывается целиком одним процессом; второй
// экземпляр, запущенный на той же директории, затёр бы чужие изменения.
// При старте процесс захватывает {uploadDir}/.bucket.lock и держит
// блокировку до остановки. Владелец (host:pid) записывается в .bucket.owner,
// чтобы ошибка второго экземпляра указывала на первый.
package dirlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const (
	// lockFileName — имя файла блокировки.
	lockFileName = ".bucket.lock"
	// ownerFileName — имя файла с владельцем блокировки.
	ownerFileName = ".bucket.owner"
)

// ErrLocked — директория уже занята другим процессом.
var ErrLocked = errors.New("директория хранения занята другим экземпляром")

// Lock — захваченная блокировка директории.
type Lock struct {
	dir  string
	file *os.File
}

// Acquire захватывает эксклюзивную блокировку на dir без ожидания.
// Если блокировка занята, возвращает ошибку, оборачивающую ErrLocked.
func Acquire(dir string) (*Lock, error) {
	lockPath := filepath.Join(dir, lockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	// Неблокирующая попытка захватить эксклюзивную блокировку
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if owner := readOwner(dir); owner != "" {
				return nil, fmt.Errorf("%w: %s", ErrLocked, owner)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("ошибка flock %s: %w", lockPath, err)
	}

	l := &Lock{dir: dir, file: f}
	if err := l.writeOwner(); err != nil {
		l.Release()
		return nil, err
	}
	return l, nil
}

// Owner возвращает владельца блокировки в формате host:pid.
func (l *Lock) Owner() string {
	return readOwner(l.dir)
}

// Release снимает блокировку. Повторный вызов безопасен.
func (l *Lock) Release() {
	if l.file == nil {
		return
	}
	_ = os.Remove(filepath.Join(l.dir, ownerFileName))
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// writeOwner записывает host:pid в .bucket.owner (атомарно).
func (l *Lock) writeOwner() error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	owner := fmt.Sprintf("%s:%d", hostname, os.Getpid())

	infoPath := filepath.Join(l.dir, ownerFileName)
	tmpPath := infoPath + ".tmp"

	if err := os.WriteFile(tmpPath, []byte(owner), 0o640); err != nil {
		return fmt.Errorf("ошибка записи temp %s: %w", ownerFileName, err)
	}
	if err := os.Rename(tmpPath, infoPath); err != nil {
		return fmt.Errorf("ошибка переименования %s: %w", ownerFileName, err)
	}
	return nil
}

// readOwner читает владельца из .bucket.owner.
// Возвращает пустую строку, если файл не существует или ошибка чтения.
func readOwner(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ownerFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
