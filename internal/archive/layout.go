package archive

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Layout selects the directory/filename pattern used when rendering an
// archive path, per spec.md §6.
type Layout int

const (
	LayoutFlat Layout = iota
	LayoutHierarchy
	LayoutCombo
	LayoutDailyDir
	LayoutAccurate
	LayoutCustom
)

// ParseLayout converts a CLI layout name into a Layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "flat":
		return LayoutFlat, nil
	case "hierarchy":
		return LayoutHierarchy, nil
	case "combo":
		return LayoutCombo, nil
	case "dailydir":
		return LayoutDailyDir, nil
	case "accurate":
		return LayoutAccurate, nil
	case "custom":
		return LayoutCustom, nil
	default:
		return 0, fmt.Errorf("archive: unknown layout %q", s)
	}
}

// renderPath produces the path for t (the period start, except under
// LayoutAccurate where t is the exact wall-clock moment of the call) under
// root with the given suffix. customFormat is used only for LayoutCustom
// and must be a valid strftime pattern.
func renderPath(layout Layout, root, suffix string, customFormat string, t time.Time) (string, error) {
	switch layout {
	case LayoutFlat:
		return fmt.Sprintf("%s/%s.%s", root, t.Format("2006-01-02-15"), suffix), nil
	case LayoutHierarchy:
		return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/archive.%s",
			root, t.Year(), t.Month(), t.Day(), t.Hour(), suffix), nil
	case LayoutCombo:
		return fmt.Sprintf("%s/%04d/%02d/%02d/%02d/%s.%s",
			root, t.Year(), t.Month(), t.Day(), t.Hour(), t.Format("2006-01-02-15"), suffix), nil
	case LayoutDailyDir:
		return fmt.Sprintf("%s/%s/%s.%s",
			root, t.Format("2006-01-02"), t.Format("2006-01-02-15"), suffix), nil
	case LayoutAccurate:
		return fmt.Sprintf("%s/%s/%s-%02d.%s",
			root, t.Format("2006-01-02"), t.Format("2006-01-02-15-04-05"), centiseconds(t), suffix), nil
	case LayoutCustom:
		f, err := strftime.New(customFormat)
		if err != nil {
			return "", fmt.Errorf("archive: invalid custom strftime pattern %q: %w", customFormat, err)
		}
		return root + "/" + f.FormatString(t), nil
	default:
		return "", fmt.Errorf("archive: unhandled layout %v", layout)
	}
}

// centiseconds extracts the hundredths-of-a-second component of t.
func centiseconds(t time.Time) int {
	return t.Nanosecond() / 10_000_000
}
