package ingest

import (
	"context"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"telegram-bdintel/internal/infra/pr"
)

// ErrAuthRequired — сессия отсутствует или отозвана, а интерактивный ввод
// недоступен. Обёртка CLI завершает процесс с кодом 4: оператор должен
// выполнить вход вручную в терминале.
var ErrAuthRequired = errors.New("ingest: telegram authorization required")

// TerminalAuthenticator реализует auth.UserAuthenticator: телефон из конфига,
// код и 2FA — из терминала. Вне интерактивного терминала вместо запроса
// возвращается ErrAuthRequired.
type TerminalAuthenticator struct {
	PhoneNumber string
}

// Phone возвращает заранее известный номер телефона. Ожидается E.164.
func (t TerminalAuthenticator) Phone(_ context.Context) (string, error) {
	if t.PhoneNumber != "" {
		return t.PhoneNumber, nil
	}
	if !pr.Interactive() {
		return "", ErrAuthRequired
	}
	return pr.ReadLine("Enter phone number: ")
}

// Code запрашивает код подтверждения у пользователя.
func (t TerminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	if !pr.Interactive() {
		return "", ErrAuthRequired
	}
	return pr.ReadLine("Enter the code from Telegram: ")
}

// Password считывает пароль 2FA без эха.
func (t TerminalAuthenticator) Password(_ context.Context) (string, error) {
	if !pr.Interactive() {
		return "", ErrAuthRequired
	}
	pr.Print("Enter 2FA password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	pr.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

// AcceptTermsOfService выводит текст условий и запрашивает согласие.
func (t TerminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	if !pr.Interactive() {
		return ErrAuthRequired
	}
	pr.Printf("Telegram Terms of Service: %s\n", tos.Text)
	resp, err := pr.ReadLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp, "y") {
		return errors.New("user did not accept terms of service")
	}
	return nil
}

// SignUp вызывается для незарегистрированного номера. Конвейер читает историю
// существующего аккаунта, регистрация нового — ошибка оператора.
func (t TerminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("sign up is not supported, use an existing account")
}
