// Package pr — тонкая обёртка для унифицированного вывода в интерактивной среде.
// Нужна только интерактивной авторизации: readline с отменяемым stdin, чтобы
// shutdown мог прервать ожидание кода подтверждения, и согласованный вывод
// приглашений рядом с логами. Конкурентность: мьютекс защищает смену writer'ов;
// сами записи сериализуются на стороне readline.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

var (
	// rl — активный инстанс readline. Появляется после Init(); может быть nil до инициализации.
	rl *readline.Instance
	// out — текущий поток стандартного вывода. До Init() указывает на os.Stdout.
	out io.Writer = os.Stdout
	// errOut — поток вывода ошибок.
	errOut io.Writer = os.Stderr
	// mu защищает замену ссылок на writer'ы и cancelableIn.
	mu sync.Mutex

	// cancelableIn — дескриптор stdin, закрытие которого даёт io.EOF в readline.
	cancelableIn interface{ Close() error }
)

// Init настраивает readline и перенаправляет потоки вывода на его stdout/stderr.
// Повторный вызов не предусмотрен.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}
	rl = newRl

	mu.Lock()
	cancelableIn = cs
	out = rl.Stdout()
	errOut = rl.Stderr()
	mu.Unlock()

	return nil
}

// Interactive сообщает, инициализирован ли интерактивный ввод.
func Interactive() bool {
	mu.Lock()
	defer mu.Unlock()
	return rl != nil
}

// InterruptReadline закрывает cancelable stdin: Readline() получает io.EOF и возвращается.
// Идемпотентна.
func InterruptReadline() {
	if cancelableIn != nil {
		_ = cancelableIn.Close()
	}
}

// ReadLine выводит приглашение и читает одну строку. Ошибка включает io.EOF
// при прерванном stdin (shutdown во время ожидания кода).
func ReadLine(prompt string) (string, error) {
	if rl == nil {
		return "", io.EOF
	}
	rl.SetPrompt(prompt)
	return rl.Readline()
}

// Stdout возвращает текущий writer стандартного вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Print пишет в стандартный вывод без форматирования.
func Print(a ...any) { _, _ = fmt.Fprint(Stdout(), a...) }

// Println пишет строку с переводом.
func Println(a ...any) { _, _ = fmt.Fprintln(Stdout(), a...) }

// Printf пишет форматированную строку.
func Printf(format string, a ...any) { _, _ = fmt.Fprintf(Stdout(), format, a...) }

// Pretty печатает значение в читаемом виде (диагностика конфигурации и статистики).
func Pretty(a ...any) { _, _ = pretty.Fprintf(Stdout(), "%# v\n", a...) }
