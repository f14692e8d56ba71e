package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type kind uint8

const (
	kindString kind = iota
	kindInt
	kindInt64
	kindFloat
	kindBool
	kindErr
	kindAny
)

// Field is one typed key/value attached to a log event.
type Field struct {
	Key  string
	kind kind
	str  string
	num  int64
	flt  float64
	val  interface{}
}

func (f Field) apply(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.Key, f.str)
	case kindInt:
		e.Int(f.Key, int(f.num))
	case kindInt64:
		e.Int64(f.Key, f.num)
	case kindFloat:
		e.Float64(f.Key, f.flt)
	case kindBool:
		e.Bool(f.Key, f.num != 0)
	case kindErr:
		if err, _ := f.val.(error); err != nil {
			e.AnErr(f.Key, err)
		}
	default:
		e.Interface(f.Key, f.val)
	}
}

func (f Field) ctx(c zerolog.Context) zerolog.Context {
	switch f.kind {
	case kindString:
		return c.Str(f.Key, f.str)
	case kindInt, kindInt64:
		return c.Int64(f.Key, f.num)
	default:
		return c.Interface(f.Key, f.Value())
	}
}

// Value returns the plain value, with errors rendered as their message.
func (f Field) Value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindInt:
		return int(f.num)
	case kindInt64:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num != 0
	case kindErr:
		if err, _ := f.val.(error); err != nil {
			return err.Error()
		}
		return nil
	default:
		return f.val
	}
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, str: value} }

func Int(key string, value int) Field { return Field{Key: key, kind: kindInt, num: int64(value)} }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt64, num: value} }

func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }

func Bool(key string, value bool) Field {
	f := Field{Key: key, kind: kindBool}
	if value {
		f.num = 1
	}
	return f
}

// Error is keyed "error"; a nil err adds nothing to the event.
func Error(err error) Field { return Field{Key: zerolog.ErrorFieldName, kind: kindErr, val: err} }

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, val: value} }

// Duration logs whole milliseconds.
func Duration(key string, d time.Duration) Field { return Int64(key, d.Milliseconds()) }

func Strings(key string, values []string) Field { return String(key, strings.Join(values, ", ")) }
