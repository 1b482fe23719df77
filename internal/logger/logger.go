// Package logger предоставляет логирование с префиксом компонента и асинхронной записью,
// чтобы сетевые задачи синхронизации не блокировались на выводе. Поддерживаются уровни
// и логирование времени выполнения удалённых вызовов.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

// SlowCallThreshold — на уровне info логируются только вызовы дольше порога.
const SlowCallThreshold = 100 * time.Millisecond

type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	prefix   atomic.Value // string
	logLevel atomic.Int32
	out      = log.New(os.Stderr, "", log.LstdFlags)
	ch       chan string
	once     sync.Once
	pending  atomic.Int64
)

func init() {
	logLevel.Store(int32(parseLevel(os.Getenv("LOG_LEVEL"))))
}

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			out.Print(msg)
			pending.Add(-1)
		}
	}()
}

func enqueue(l Level, msg string) {
	if l < Level(logLevel.Load()) {
		return
	}
	once.Do(initWorker)
	pending.Add(1)
	select {
	case ch <- msg:
	default:
		// Буфер полон — не блокируем задачу, теряем строку
		pending.Add(-1)
	}
}

// SetPrefix задаёт префикс для всех последующих логов (например "sync", "inspect").
func SetPrefix(p string) {
	prefix.Store(p)
}

// SetLevel задаёт уровень по имени ("debug", "info", "warn", "error").
func SetLevel(name string) {
	logLevel.Store(int32(parseLevel(name)))
}

// SetOutput перенаправляет вывод (используется CLI и тестами).
func SetOutput(w io.Writer) {
	out.SetOutput(w)
}

// Flush ждёт (не дольше timeout), пока воркер допишет уже поставленные в очередь строки.
func Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for pending.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	enqueue(LevelDebug, tag()+"DEBUG: "+fmt.Sprintf(format, v...))
}

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	enqueue(LevelInfo, tag()+fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	enqueue(LevelInfo, tag()+fmt.Sprintf(format, v...))
}

// Warnf — нештатная, но восстановимая ситуация (например, откат на открытое чтение канала).
func Warnf(format string, v ...any) {
	enqueue(LevelWarn, tag()+"WARN: "+fmt.Sprintf(format, v...))
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	enqueue(LevelError, tag()+"ERROR: "+fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	enqueue(LevelError, tag()+"ERROR: "+fmt.Sprintf(format, v...))
}

// LogDuration логирует имя операции и время выполнения в миллисекундах.
// На уровне info — только вызовы дольше SlowCallThreshold, на debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if Level(logLevel.Load()) == LevelDebug || elapsed >= SlowCallThreshold {
		enqueue(LevelInfo, fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("api.GetChannel", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
