package codeact

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"
)

// dateTime backs datetime.date and datetime.datetime. Naive values keep
// their wall clock in UTC; aware values keep their own location.
type dateTime struct {
	t        time.Time
	dateOnly bool
	aware    bool
}

var (
	_ starlark.HasAttrs   = (*dateTime)(nil)
	_ starlark.HasBinary  = (*dateTime)(nil)
	_ starlark.Comparable = (*dateTime)(nil)
)

// wall returns t's wall clock as a naive value.
func wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func (d *dateTime) Type() string {
	if d.dateOnly {
		return "date"
	}
	return "datetime"
}

func (d *dateTime) String() string {
	if d.dateOnly {
		return d.t.Format("2006-01-02")
	}
	return d.isoformat(" ")
}

func (d *dateTime) isoformat(sep string) string {
	if d.dateOnly {
		return d.t.Format("2006-01-02")
	}
	s := d.t.Format("2006-01-02") + sep + d.t.Format("15:04:05")
	if us := d.t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	if d.aware {
		s += d.t.Format("-07:00")
	}
	return s
}

func (d *dateTime) Freeze()              {}
func (d *dateTime) Truth() starlark.Bool { return true }
func (d *dateTime) Hash() (uint32, error) {
	return starlark.MakeInt64(d.t.UnixNano()).Hash()
}

func (d *dateTime) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	o := y.(*dateTime)
	if d.aware != o.aware {
		return false, fmt.Errorf("TypeError: can't compare offset-naive and offset-aware datetimes")
	}
	cmp := d.t.Compare(o.t)
	switch op {
	case syntax.EQL:
		return cmp == 0, nil
	case syntax.NEQ:
		return cmp != 0, nil
	case syntax.LT:
		return cmp < 0, nil
	case syntax.LE:
		return cmp <= 0, nil
	case syntax.GT:
		return cmp > 0, nil
	case syntax.GE:
		return cmp >= 0, nil
	}
	return false, fmt.Errorf("unsupported comparison %s", op)
}

func (d *dateTime) shift(delta time.Duration) *dateTime {
	out := *d
	if d.dateOnly {
		days := int(delta / oneDay)
		if delta < 0 && delta%oneDay != 0 {
			days--
		}
		out.t = d.t.AddDate(0, 0, days)
		return &out
	}
	out.t = d.t.Add(delta)
	return &out
}

func (d *dateTime) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	switch op {
	case syntax.PLUS:
		if td, ok := y.(*timeDelta); ok {
			return d.shift(td.d), nil
		}
	case syntax.MINUS:
		if side != starlark.Left {
			return nil, nil
		}
		switch o := y.(type) {
		case *timeDelta:
			return d.shift(-o.d), nil
		case *dateTime:
			if o.dateOnly != d.dateOnly {
				return nil, nil
			}
			if o.aware != d.aware {
				return nil, fmt.Errorf("TypeError: can't subtract offset-naive and offset-aware datetimes")
			}
			return &timeDelta{d: d.t.Sub(o.t)}, nil
		}
	}
	return nil, nil
}

func (d *dateTime) AttrNames() []string {
	names := []string{"day", "isoformat", "isoweekday", "month", "replace", "strftime", "timestamp", "weekday", "year"}
	if !d.dateOnly {
		names = append(names, "date", "hour", "microsecond", "minute", "second", "tzinfo")
	}
	return names
}

func (d *dateTime) Attr(name string) (starlark.Value, error) {
	switch name {
	case "year":
		return starlark.MakeInt(d.t.Year()), nil
	case "month":
		return starlark.MakeInt(int(d.t.Month())), nil
	case "day":
		return starlark.MakeInt(d.t.Day()), nil
	case "weekday", "isoweekday":
		wd := (int(d.t.Weekday()) + 6) % 7
		if name == "isoweekday" {
			wd++
		}
		return constFunc(name, starlark.MakeInt(wd)), nil
	case "isoformat":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			sep := "T"
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "sep?", &sep); err != nil {
				return nil, err
			}
			return starlark.String(d.isoformat(sep)), nil
		}), nil
	case "strftime":
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var format string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &format); err != nil {
				return nil, err
			}
			return starlark.String(strftime(d, format)), nil
		}), nil
	case "timestamp":
		t := d.t
		if !d.aware {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.Local)
		}
		return constFunc(name, starlark.Float(float64(t.UnixNano())/1e9)), nil
	case "replace":
		return starlark.NewBuiltin(name, d.replace), nil
	}
	if d.dateOnly {
		return nil, nil
	}
	switch name {
	case "hour":
		return starlark.MakeInt(d.t.Hour()), nil
	case "minute":
		return starlark.MakeInt(d.t.Minute()), nil
	case "second":
		return starlark.MakeInt(d.t.Second()), nil
	case "microsecond":
		return starlark.MakeInt(d.t.Nanosecond() / 1000), nil
	case "tzinfo":
		if d.aware {
			return &tzInfo{loc: d.t.Location()}, nil
		}
		return starlark.None, nil
	case "date":
		return constFunc(name, &dateTime{t: wall(d.t).Truncate(oneDay), dateOnly: true}), nil
	}
	return nil, nil
}

func (d *dateTime) replace(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	t := d.t
	year, month, day := t.Year(), int(t.Month()), t.Day()
	hour, minute, second, micro := t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1000
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"year?", &year, "month?", &month, "day?", &day,
		"hour?", &hour, "minute?", &minute, "second?", &second, "microsecond?", &micro); err != nil {
		return nil, err
	}
	out, err := makeDateTime(year, month, day, hour, minute, second, micro, t.Location())
	if err != nil {
		return nil, err
	}
	return &dateTime{t: out, dateOnly: d.dateOnly, aware: d.aware}, nil
}

func constFunc(name string, v starlark.Value) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return v, nil
	})
}

func makeDateTime(year, month, day, hour, minute, second, micro int, loc *time.Location) (time.Time, error) {
	switch {
	case year < 1 || year > 9999:
		return time.Time{}, fmt.Errorf("ValueError: year %d is out of range", year)
	case month < 1 || month > 12:
		return time.Time{}, fmt.Errorf("ValueError: month must be in 1..12")
	case day < 1 || day > time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day():
		return time.Time{}, fmt.Errorf("ValueError: day is out of range for month")
	case hour < 0 || hour > 23:
		return time.Time{}, fmt.Errorf("ValueError: hour must be in 0..23")
	case minute < 0 || minute > 59:
		return time.Time{}, fmt.Errorf("ValueError: minute must be in 0..59")
	case second < 0 || second > 59:
		return time.Time{}, fmt.Errorf("ValueError: second must be in 0..59")
	case micro < 0 || micro > 999999:
		return time.Time{}, fmt.Errorf("ValueError: microsecond must be in 0..999999")
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, micro*1000, loc), nil
}

var (
	weekdayNames = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	monthNames   = []string{"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"}
)

// strftime formats d with C strftime directives.
func strftime(d *dateTime, format string) string {
	t := d.t
	wd := (int(t.Weekday()) + 6) % 7
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&sb, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&sb, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&sb, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&sb, "%02d", t.Day())
		case 'H':
			fmt.Fprintf(&sb, "%02d", t.Hour())
		case 'I':
			h := t.Hour() % 12
			if h == 0 {
				h = 12
			}
			fmt.Fprintf(&sb, "%02d", h)
		case 'M':
			fmt.Fprintf(&sb, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&sb, "%02d", t.Second())
		case 'f':
			fmt.Fprintf(&sb, "%06d", t.Nanosecond()/1000)
		case 'p':
			if t.Hour() < 12 {
				sb.WriteString("AM")
			} else {
				sb.WriteString("PM")
			}
		case 'b':
			sb.WriteString(monthNames[t.Month()-1][:3])
		case 'B':
			sb.WriteString(monthNames[t.Month()-1])
		case 'a':
			sb.WriteString(weekdayNames[wd][:3])
		case 'A':
			sb.WriteString(weekdayNames[wd])
		case 'w':
			sb.WriteString(strconv.Itoa(int(t.Weekday())))
		case 'j':
			fmt.Fprintf(&sb, "%03d", t.YearDay())
		case 'z':
			if d.aware {
				sb.WriteString(t.Format("-0700"))
			}
		case 'Z':
			if d.aware {
				sb.WriteString(t.Format("MST"))
			}
		case 'c':
			sb.WriteString(t.Format("Mon Jan _2 15:04:05 2006"))
		case 'x':
			sb.WriteString(t.Format("01/02/06"))
		case 'X':
			sb.WriteString(t.Format("15:04:05"))
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(format[i])
		}
	}
	return sb.String()
}

var strptimeLayouts = map[byte]string{
	'Y': "2006", 'y': "06", 'm': "1", 'd': "2", 'H': "15", 'I': "3",
	'M': "4", 'S': "5", 'p': "PM", 'b': "Jan", 'B': "January",
	'a': "Mon", 'A': "Monday", 'j': "002", 'z': "-0700", 'Z': "MST", '%': "%",
}

// strptimeLayout converts a strptime format into a Go time layout.
func strptimeLayout(format string) (layout string, zoned bool, err error) {
	var sb strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 == len(format) {
			sb.WriteByte(c)
			continue
		}
		i++
		d := format[i]
		if d == 'f' {
			s := sb.String()
			if !strings.HasSuffix(s, ".") {
				return "", false, fmt.Errorf("ValueError: %%f is only supported after a '.'")
			}
			sb.WriteString("000000")
			continue
		}
		l, ok := strptimeLayouts[d]
		if !ok {
			return "", false, fmt.Errorf("ValueError: '%c' is a bad directive in format '%s'", d, format)
		}
		if d == 'z' || d == 'Z' {
			zoned = true
		}
		sb.WriteString(l)
	}
	return sb.String(), zoned, nil
}

var (
	isoZonedLayouts = []string{"2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05Z07:00", "2006-01-02T15:04Z07:00"}
	isoNaiveLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02 15:04", "2006-01-02"}
)

func parseISO(s string) (*dateTime, error) {
	for _, l := range isoZonedLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return &dateTime{t: t, aware: true}, nil
		}
	}
	for _, l := range isoNaiveLayouts {
		if t, err := time.ParseInLocation(l, s, time.UTC); err == nil {
			return &dateTime{t: t}, nil
		}
	}
	return nil, fmt.Errorf("ValueError: Invalid isoformat string: '%s'", s)
}

// tzInfo is a fixed zone; timezone.utc is the only one constructed directly.
type tzInfo struct {
	loc *time.Location
}

func (z *tzInfo) String() string        { return z.loc.String() }
func (z *tzInfo) Type() string          { return "timezone" }
func (z *tzInfo) Freeze()               {}
func (z *tzInfo) Truth() starlark.Bool  { return true }
func (z *tzInfo) Hash() (uint32, error) { return starlark.String(z.loc.String()).Hash() }

var utcZone = &tzInfo{loc: time.UTC}

// now returns the current time, naive local or aware in tz.
func now(tz starlark.Value) (*dateTime, error) {
	t := time.Now()
	switch z := tz.(type) {
	case nil, starlark.NoneType:
		return &dateTime{t: wall(t)}, nil
	case *tzInfo:
		return &dateTime{t: t.In(z.loc), aware: true}, nil
	}
	return nil, fmt.Errorf("TypeError: tzinfo argument must be None or a timezone")
}

func fromTimestamp(ts starlark.Value, tz starlark.Value) (*dateTime, error) {
	f, ok := starlark.AsFloat(ts)
	if !ok {
		return nil, fmt.Errorf("TypeError: an integer or float is required")
	}
	sec, frac := math.Modf(f)
	t := time.Unix(int64(sec), int64(math.Round(frac*1e6))*1000)
	switch z := tz.(type) {
	case nil, starlark.NoneType:
		return &dateTime{t: wall(t.Local())}, nil
	case *tzInfo:
		return &dateTime{t: t.In(z.loc), aware: true}, nil
	}
	return nil, fmt.Errorf("TypeError: tzinfo argument must be None or a timezone")
}

// timeDelta backs datetime.timedelta.
type timeDelta struct {
	d time.Duration
}

var (
	_ starlark.HasAttrs   = (*timeDelta)(nil)
	_ starlark.HasBinary  = (*timeDelta)(nil)
	_ starlark.HasUnary   = (*timeDelta)(nil)
	_ starlark.Comparable = (*timeDelta)(nil)
)

const oneDay = 24 * time.Hour

// parts normalises like Python: days may be negative, seconds and
// microseconds are not.
func (td *timeDelta) parts() (days, seconds, micros int64) {
	us := td.d.Microseconds()
	perDay := int64(oneDay / time.Microsecond)
	days = us / perDay
	rem := us % perDay
	if rem < 0 {
		days--
		rem += perDay
	}
	return days, rem / 1e6, rem % 1e6
}

func (td *timeDelta) String() string {
	days, secs, micros := td.parts()
	s := fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	if micros != 0 {
		s += fmt.Sprintf(".%06d", micros)
	}
	if days != 0 {
		plural := "s"
		if days == 1 || days == -1 {
			plural = ""
		}
		s = fmt.Sprintf("%d day%s, %s", days, plural, s)
	}
	return s
}

func (td *timeDelta) Type() string          { return "timedelta" }
func (td *timeDelta) Freeze()               {}
func (td *timeDelta) Truth() starlark.Bool  { return td.d != 0 }
func (td *timeDelta) Hash() (uint32, error) { return starlark.MakeInt64(int64(td.d)).Hash() }

func (td *timeDelta) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	a, b := td.d, y.(*timeDelta).d
	switch op {
	case syntax.EQL:
		return a == b, nil
	case syntax.NEQ:
		return a != b, nil
	case syntax.LT:
		return a < b, nil
	case syntax.LE:
		return a <= b, nil
	case syntax.GT:
		return a > b, nil
	case syntax.GE:
		return a >= b, nil
	}
	return false, fmt.Errorf("unsupported comparison %s", op)
}

func (td *timeDelta) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.MINUS:
		return &timeDelta{d: -td.d}, nil
	case syntax.PLUS:
		return td, nil
	}
	return nil, nil
}

func (td *timeDelta) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	switch op {
	case syntax.PLUS:
		if o, ok := y.(*timeDelta); ok {
			return &timeDelta{d: td.d + o.d}, nil
		}
	case syntax.MINUS:
		if o, ok := y.(*timeDelta); ok && side == starlark.Left {
			return &timeDelta{d: td.d - o.d}, nil
		}
	case syntax.STAR:
		if f, ok := starlark.AsFloat(y); ok {
			return &timeDelta{d: time.Duration(math.Round(float64(td.d) * f))}, nil
		}
	case syntax.SLASH:
		if side != starlark.Left {
			return nil, nil
		}
		if o, ok := y.(*timeDelta); ok {
			if o.d == 0 {
				return nil, fmt.Errorf("ZeroDivisionError: division by zero")
			}
			return starlark.Float(float64(td.d) / float64(o.d)), nil
		}
		if f, ok := starlark.AsFloat(y); ok {
			if f == 0 {
				return nil, fmt.Errorf("ZeroDivisionError: division by zero")
			}
			return &timeDelta{d: time.Duration(math.Round(float64(td.d) / f))}, nil
		}
	case syntax.SLASHSLASH:
		if side != starlark.Left {
			return nil, nil
		}
		if o, ok := y.(*timeDelta); ok {
			if o.d == 0 {
				return nil, fmt.Errorf("ZeroDivisionError: division by zero")
			}
			return starlark.MakeInt64(int64(math.Floor(float64(td.d) / float64(o.d)))), nil
		}
	}
	return nil, nil
}

func (td *timeDelta) AttrNames() []string {
	return []string{"days", "microseconds", "seconds", "total_seconds"}
}

func (td *timeDelta) Attr(name string) (starlark.Value, error) {
	days, secs, micros := td.parts()
	switch name {
	case "days":
		return starlark.MakeInt64(days), nil
	case "seconds":
		return starlark.MakeInt64(secs), nil
	case "microseconds":
		return starlark.MakeInt64(micros), nil
	case "total_seconds":
		return constFunc(name, starlark.Float(td.d.Seconds())), nil
	}
	return nil, nil
}

func newTimeDelta(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var days, seconds, micros, millis, minutes, hours, weeks starlark.Value = zero(), zero(), zero(), zero(), zero(), zero(), zero()
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"days?", &days, "seconds?", &seconds, "microseconds?", &micros,
		"milliseconds?", &millis, "minutes?", &minutes, "hours?", &hours, "weeks?", &weeks); err != nil {
		return nil, err
	}
	total := 0.0
	for _, p := range []struct {
		v     starlark.Value
		scale float64
	}{
		{days, 86400}, {seconds, 1}, {micros, 1e-6}, {millis, 1e-3},
		{minutes, 60}, {hours, 3600}, {weeks, 7 * 86400},
	} {
		f, ok := starlark.AsFloat(p.v)
		if !ok {
			return nil, fmt.Errorf("TypeError: unsupported type for timedelta component: %s", p.v.Type())
		}
		total += f * p.scale
	}
	us := math.Round(total * 1e6)
	if math.Abs(us) > float64(math.MaxInt64/1000) {
		return nil, fmt.Errorf("OverflowError: timedelta out of range")
	}
	return &timeDelta{d: time.Duration(us) * time.Microsecond}, nil
}

func zero() starlark.Value { return starlark.MakeInt(0) }

func datetimeModule() *starlarkstruct.Module {
	datetimeClass := newClass("datetime",
		func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var (
				year, month, day             int
				hour, minute, second, micros int
				tz                           starlark.Value = starlark.None
			)
			if err := starlark.UnpackArgs(b.Name(), args, kwargs,
				"year", &year, "month", &month, "day", &day,
				"hour?", &hour, "minute?", &minute, "second?", &second, "microsecond?", &micros,
				"tzinfo?", &tz); err != nil {
				return nil, err
			}
			loc, aware := time.UTC, false
			if z, ok := tz.(*tzInfo); ok {
				loc, aware = z.loc, true
			} else if tz != starlark.None {
				return nil, fmt.Errorf("TypeError: tzinfo argument must be None or a timezone")
			}
			t, err := makeDateTime(year, month, day, hour, minute, second, micros, loc)
			if err != nil {
				return nil, err
			}
			return &dateTime{t: t, aware: aware}, nil
		},
		map[string]builtinFunc{
			"now": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var tz starlark.Value = starlark.None
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "tz?", &tz); err != nil {
					return nil, err
				}
				return now(tz)
			},
			"today": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				return now(nil)
			},
			"utcnow": func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				return &dateTime{t: wall(time.Now().UTC())}, nil
			},
			"fromtimestamp": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var ts, tz starlark.Value = nil, starlark.None
				if err := starlark.UnpackArgs(b.Name(), args, kwargs, "timestamp", &ts, "tz?", &tz); err != nil {
					return nil, err
				}
				return fromTimestamp(ts, tz)
			},
			"fromisoformat": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var s string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
					return nil, err
				}
				return parseISO(s)
			},
			"strptime": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var s, format string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &s, &format); err != nil {
					return nil, err
				}
				layout, zoned, err := strptimeLayout(format)
				if err != nil {
					return nil, err
				}
				t, err := time.ParseInLocation(layout, s, time.UTC)
				if err != nil {
					return nil, fmt.Errorf("ValueError: time data '%s' does not match format '%s'", s, format)
				}
				return &dateTime{t: t, aware: zoned}, nil
			},
		})

	dateClass := newClass("date",
		func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var year, month, day int
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "year", &year, "month", &month, "day", &day); err != nil {
				return nil, err
			}
			t, err := makeDateTime(year, month, day, 0, 0, 0, 0, time.UTC)
			if err != nil {
				return nil, err
			}
			return &dateTime{t: t, dateOnly: true}, nil
		},
		map[string]builtinFunc{
			"today": func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
				n := wall(time.Now())
				return &dateTime{t: n.Truncate(oneDay), dateOnly: true}, nil
			},
			"fromisoformat": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var s string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &s); err != nil {
					return nil, err
				}
				t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
				if err != nil {
					return nil, fmt.Errorf("ValueError: Invalid isoformat string: '%s'", s)
				}
				return &dateTime{t: t, dateOnly: true}, nil
			},
			"fromtimestamp": func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var ts starlark.Value
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &ts); err != nil {
					return nil, err
				}
				dt, err := fromTimestamp(ts, nil)
				if err != nil {
					return nil, err
				}
				return &dateTime{t: dt.t.Truncate(oneDay), dateOnly: true}, nil
			},
		})

	return newModule("datetime", nil, starlark.StringDict{
		"datetime":  datetimeClass,
		"date":      dateClass,
		"timedelta": newClass("timedelta", newTimeDelta, nil),
		"timezone":  &starlarkstruct.Module{Name: "timezone", Members: starlark.StringDict{"utc": utcZone}},
		"UTC":       utcZone,
		"MINYEAR":   starlark.MakeInt(1),
		"MAXYEAR":   starlark.MakeInt(9999),
	})
}
