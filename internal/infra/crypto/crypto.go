// Package crypto — симметричное аутентифицированное шифрование текстов сообщений.
// Шифр — XChaCha20-Poly1305 (AEAD): 32-байтовый ключ, случайный 24-байтовый nonce
// в префиксе шифртекста. Ключ живёт в памяти неизменным весь срок процесса;
// источники ключа — явный аргумент, переменная окружения FERNET_KEY, файл ключа.
// Если ключа нет нигде, генерируется новый и сохраняется на диск.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/crypto/chacha20poly1305"

	"telegram-bdintel/internal/infra/logger"
	"telegram-bdintel/internal/infra/storage"
)

// EnvKeyName — имя переменной окружения с ключом. Историческое имя сохранено
// для совместимости с прежними развёртываниями.
const EnvKeyName = "FERNET_KEY"

var (
	// ErrKeyInvalid — переданный ключ не является валидным AEAD-ключом (длина/кодировка).
	ErrKeyInvalid = errors.New("crypto: invalid key")
	// ErrDecrypt — повреждённый шифртекст или несовпадение аутентификационного тега.
	// Ошибка одной строки: вызывающий код пропускает строку и ведёт счётчик,
	// а не прерывает пакетную обработку.
	ErrDecrypt = errors.New("crypto: decrypt failed")
)

// Cipher инкапсулирует AEAD и ключ. Потокобезопасен: после создания состояние неизменно.
type Cipher struct {
	key []byte
}

// decodeKey принимает base64-представление ключа (url-safe или стандартное,
// с паддингом или без) и возвращает ровно 32 байта ключевого материала.
func decodeKey(encoded string) ([]byte, error) {
	s := strings.TrimSpace(encoded)
	if s == "" {
		return nil, ErrKeyInvalid
	}
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding, base64.RawStdEncoding,
	} {
		raw, err := enc.DecodeString(s)
		if err == nil && len(raw) == chacha20poly1305.KeySize {
			return raw, nil
		}
	}
	return nil, ErrKeyInvalid
}

// EncodeKey возвращает каноническое url-safe base64 представление ключа.
func EncodeKey(raw []byte) string {
	return base64.URLEncoding.EncodeToString(raw)
}

// GenerateKey создаёт свежий 32-байтовый ключ из crypto/rand.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return key, nil
}

// NewCipher создаёт шифратор из base64-ключа. Пустая строка или неверная длина → ErrKeyInvalid.
func NewCipher(encodedKey string) (*Cipher, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	return &Cipher{key: key}, nil
}

// Load разрешает ключ по порядку: explicit → окружение (FERNET_KEY) → файл keyPath.
// Если ключ не найден ни в одном источнике, генерируется новый, атомарно
// сохраняется в keyPath и пишется единственное предупреждение в лог.
func Load(explicit, keyPath string) (*Cipher, error) {
	if strings.TrimSpace(explicit) != "" {
		return NewCipher(explicit)
	}
	if env := os.Getenv(EnvKeyName); strings.TrimSpace(env) != "" {
		return NewCipher(env)
	}
	if data, err := os.ReadFile(keyPath); err == nil && len(strings.TrimSpace(string(data))) > 0 {
		return NewCipher(string(data))
	}

	raw, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	encoded := EncodeKey(raw)
	if err = storage.AtomicWriteFile(keyPath, []byte(encoded+"\n")); err != nil {
		return nil, errors.Wrap(err, "persist generated key")
	}
	logger.Warnf("encryption key not found, generated a new one and stored it at %s", keyPath)
	return &Cipher{key: raw}, nil
}

// Encrypt шифрует plaintext и возвращает nonce||ciphertext||tag.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, ErrKeyInvalid
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err = rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "nonce")
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt раскрывает nonce||ciphertext||tag. Любое повреждение входа даёт ErrDecrypt.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, ErrKeyInvalid
	}
	if len(data) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}
