// errors.go — ошибки сервисного слоя хранилища.
//
// Каждая ошибка координатора несёт вид (Kind), по которому HTTP-слой
// выбирает код ответа, и оборачивает одну из sentinel-ошибок ниже,
// так что errors.Is работает без знания о *Error.
package service

import (
	"errors"
	"fmt"
)

// Kind — вид ошибки сервисного слоя.
type Kind int

const (
	// KindUnknown — ошибка не из сервисного слоя.
	KindUnknown Kind = iota
	// KindValidation — некорректный запрос, состояние не изменялось.
	KindValidation
	// KindNotFound — запись с таким id отсутствует в индексе.
	KindNotFound
	// KindBlobMissing — запись есть, а blob на диске отсутствует (рассинхронизация).
	KindBlobMissing
	// KindIO — ошибка ввода-вывода blob-хранилища.
	KindIO
	// KindIndexWrite — документ индекса не удалось перезаписать.
	KindIndexWrite
)

// String возвращает имя вида ошибки для логов.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindBlobMissing:
		return "blob_missing"
	case KindIO:
		return "io"
	case KindIndexWrite:
		return "index_write"
	default:
		return "unknown"
	}
}

var (
	// ErrPayloadTooLarge — размер файла превышает MAX_FILE_SIZE.
	ErrPayloadTooLarge = errors.New("размер файла превышает допустимый")
	// ErrUnsupportedMediaType — MIME-тип не входит в список разрешённых.
	ErrUnsupportedMediaType = errors.New("недопустимый тип файла")
	// ErrFileNotFound — файл не найден.
	ErrFileNotFound = errors.New("файл не найден")
	// ErrBlobMissing — содержимое файла отсутствует на диске.
	ErrBlobMissing = errors.New("содержимое файла отсутствует на диске")
	// ErrIndexWrite — не удалось сохранить индекс метаданных.
	ErrIndexWrite = errors.New("не удалось сохранить индекс метаданных")
	// ErrInvalidPage — отрицательные offset или limit.
	ErrInvalidPage = errors.New("некорректные параметры пагинации")
	// ErrInvalidBody — поток загрузки оборван или повреждён.
	ErrInvalidBody = errors.New("тело запроса прервано или повреждено")
	// ErrStorage — ошибка файлового хранилища.
	ErrStorage = errors.New("ошибка файлового хранилища")
)

// Error — ошибка операции координатора.
type Error struct {
	// Kind — вид ошибки
	Kind Kind
	// Op — операция (upload, get, info, delete, list)
	Op string
	// Err — причина; цепочка содержит одну из sentinel-ошибок пакета
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newError создаёт ошибку операции op вида kind.
// sentinel попадает в цепочку, cause (если есть) — за ним.
func newError(kind Kind, op string, sentinel, cause error) *Error {
	err := sentinel
	if cause != nil {
		err = fmt.Errorf("%w: %w", sentinel, cause)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf возвращает вид ошибки сервисного слоя или KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
