package logsvc

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/rollbar/rollbar-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/trezcool/classboard/core"
	"github.com/trezcool/classboard/core/user"
)

// RollbarLogger reports to Rollbar and writes every entry locally with zerolog.
type RollbarLogger struct {
	local zerolog.Logger
	exit  func(code int)
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewLocalLogger returns the zerolog logger used for local output: human readable in debug, JSON otherwise.
func NewLocalLogger(out io.Writer, component string, conf *core.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if conf.Debug {
		level = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("component", component).Logger()
}

func NewRollbarLogger(local zerolog.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(stackTracer)
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	return &RollbarLogger{local: local, exit: os.Exit}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	var usrSet bool
	newArgs := make([]interface{}, 0, len(args)+1)
	newArgs = append(newArgs, msg)
	for _, arg := range args {
		// set logged in User
		if usr, ok := arg.(user.User); ok {
			if !usrSet { // only set one User
				rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
				usrSet = true
			}
		} else {
			newArgs = append(newArgs, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return newArgs
}

func (l RollbarLogger) print(event *zerolog.Event, msg string, args []interface{}) {
	for _, arg := range args {
		switch a := arg.(type) {
		case error:
			event = event.Stack().Err(a)
		case map[string]interface{}:
			event = event.Fields(a)
		case user.User:
			event = event.Str("user_id", a.ID).Str("username", a.Username)
		default:
			event = event.Interface("arg", a)
		}
	}
	event.Msg(msg)
}

type stackTracerErr interface {
	StackTrace() errors.StackTrace
}

// stackTracer hands the stack recorded by pkg/errors to Rollbar.
func stackTracer(err error) ([]runtime.Frame, bool) {
	var st errors.StackTrace
	for err != nil {
		if e, ok := err.(stackTracerErr); ok {
			st = e.StackTrace()
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		err = cause.Cause()
	}
	if len(st) == 0 {
		return nil, false
	}

	pcs := make([]uintptr, len(st))
	for i, f := range st {
		pcs[i] = uintptr(f)
	}
	frames := make([]runtime.Frame, 0, len(pcs))
	iter := runtime.CallersFrames(pcs)
	for {
		frame, more := iter.Next()
		frames = append(frames, frame)
		if !more {
			break
		}
	}
	return frames, true
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rollbar.Debug(l.prepare(msg, args)...)
	l.print(l.local.Debug(), msg, args)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rollbar.Info(l.prepare(msg, args)...)
	l.print(l.local.Info(), msg, args)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rollbar.Warning(l.prepare(msg, args)...)
	l.print(l.local.Warn(), msg, args)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rollbar.Error(l.prepare(msg, args)...)
	l.print(l.local.Error(), msg, args)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rollbar.Critical(l.prepare(msg, args)...)
	l.print(l.local.WithLevel(zerolog.FatalLevel), msg, args)
	rollbar.Wait()
	l.exit(1)
}
