// Package logger пишет логи с префиксом сервиса через асинхронную очередь,
// чтобы обработка событий чата не ждала записи в stderr.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 4096

type level int

const (
	levelDebug level = iota
	levelInfo
	levelError
)

var (
	prefix   string
	logLevel = levelInfo
	out      = log.New(os.Stderr, "", log.LstdFlags)
	ch       chan string
	done     chan struct{}
	closed   bool
	once     sync.Once
	mu       sync.RWMutex
)

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func initWorker() {
	mu.Lock()
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		logLevel = parseLevel(v)
	}
	mu.Unlock()
	ch = make(chan string, asyncBufferSize)
	done = make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ch {
			mu.RLock()
			l := out
			mu.RUnlock()
			l.Print(msg)
		}
	}()
}

func enabled(l level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= logLevel
}

func enqueue(l level, msg string) {
	once.Do(initWorker)
	if !enabled(l) {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	if closed {
		return
	}
	select {
	case ch <- msg:
	default:
		// очередь переполнена: строку теряем, но не блокируем цикл событий
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "chatd", "chatctl").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel переопределяет LOG_LEVEL значением из конфига.
func SetLevel(s string) {
	once.Do(initWorker)
	mu.Lock()
	logLevel = parseLevel(s)
	mu.Unlock()
}

// SetOutput перенаправляет вывод (тесты, chatctl пишет в stderr без времени).
func SetOutput(w io.Writer, flags int) {
	mu.Lock()
	out = log.New(w, "", flags)
	mu.Unlock()
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Debugf(format string, v ...any) {
	enqueue(levelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

func Info(v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(levelInfo, tag()+fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(levelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения.
// На уровне info пишутся только вызовы дольше 100ms, на debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(levelDebug) || elapsed >= 100*time.Millisecond {
		enqueue(levelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("api.SendMessage", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}

// Flush закрывает очередь и дожидается записи оставшихся строк. Вызывается один раз при выходе.
func Flush(timeout time.Duration) {
	once.Do(initWorker)
	mu.Lock()
	if closed {
		mu.Unlock()
		return
	}
	closed = true
	close(ch)
	mu.Unlock()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
