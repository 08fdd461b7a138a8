// Package tasks parses and serializes the markdown checklist that drives
// sprint execution, and computes dynamic assignability from the dependency
// graph encoded in task text.
//
// The checklist grammar, per line:
//
//	unassigned:  "- [ ] desc"
//	assigned:    "- [A] desc"
//	completed:   "- [x] desc (A)"
//
// Task numbers are embedded in the description as "(#N)" and blocking
// relationships as "(blocked by #a, #b)". Non-task lines are preserved
// verbatim in their original relative position: lines before the first task
// form the header, lines between tasks attach as prefix to the next task,
// and trailing lines form the footer.
package tasks

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gitswarm/gitswarm/internal/team"
)

// Status is the assignment state of a task.
type Status int

const (
	// Unassigned means the task is open: "- [ ]".
	Unassigned Status = iota
	// Assigned means an agent owns the task this sprint: "- [A]".
	Assigned
	// Completed means the task is done and attributed: "- [x] ... (A)".
	Completed
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case Unassigned:
		return "unassigned"
	case Assigned:
		return "assigned"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// UnknownAttribution is the sentinel initial for completed tasks whose
// attribution was missing in the source file.
const UnknownAttribution team.Initial = '?'

// Task is one checklist entry.
type Task struct {
	// Description is the task text, including any "(#N)" and
	// "(blocked by ...)" tokens.
	Description string

	// Status is the current assignment state.
	Status Status

	// Initial is the owning or attributed agent. Meaningful only when
	// Status is Assigned or Completed; UnknownAttribution when a completed
	// task carried no attribution.
	Initial team.Initial

	// LineNumber is the 1-based line of the task in the source file.
	LineNumber int

	// Prefix holds the raw non-task lines (section headings, blank lines)
	// that immediately preceded this task, preserved for round-trip.
	Prefix []string
}

var (
	taskLinePattern  = regexp.MustCompile(`^- \[(.)\] (.*)$`)
	taskNumPattern   = regexp.MustCompile(`\(#(\d+)\)`)
	blockedByPattern = regexp.MustCompile(`\(blocked by ([^)]+)\)`)
	attributionTail  = regexp.MustCompile(` \((.)\)$`)
)

// Number returns the task's embedded "(#N)" number, or 0 if absent.
func (t *Task) Number() int {
	m := taskNumPattern.FindStringSubmatch(t.Description)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// BlockedBy returns the task numbers referenced by a "(blocked by ...)"
// token in the description, in order of appearance.
func (t *Task) BlockedBy() []int {
	m := blockedByPattern.FindStringSubmatch(t.Description)
	if m == nil {
		return nil
	}
	var nums []int
	for _, field := range strings.Split(m[1], ",") {
		field = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(field), "#"))
		n, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	return nums
}

// Line renders the task back to its checklist line.
func (t *Task) Line() string {
	switch t.Status {
	case Assigned:
		return fmt.Sprintf("- [%s] %s", t.Initial.String(), t.Description)
	case Completed:
		initial := "?"
		if t.Initial.Valid() {
			initial = t.Initial.String()
		}
		return fmt.Sprintf("- [x] %s (%s)", t.Description, initial)
	default:
		return fmt.Sprintf("- [ ] %s", t.Description)
	}
}

// List is an ordered checklist plus the raw header and footer line buffers
// needed to round-trip the source file.
type List struct {
	Tasks  []Task
	Header []string
	Footer []string
}

// Parse reads a checklist from its file content. Parsing never fails:
// malformed task-like lines are treated as plain text and preserved.
func Parse(content string) *List {
	list := &List{}

	lines := strings.Split(content, "\n")
	// A trailing newline yields one empty trailing element; drop it so the
	// serializer can re-add the final newline without doubling it.
	trailingNewline := strings.HasSuffix(content, "\n")
	if trailingNewline && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}

	var pending []string
	for i, line := range lines {
		m := taskLinePattern.FindStringSubmatch(line)
		if m == nil {
			if len(list.Tasks) == 0 {
				list.Header = append(list.Header, line)
			} else {
				pending = append(pending, line)
			}
			continue
		}

		task, ok := parseTaskLine(m[1], m[2])
		if !ok {
			// Checkbox marker we don't recognize: keep as plain text.
			if len(list.Tasks) == 0 {
				list.Header = append(list.Header, line)
			} else {
				pending = append(pending, line)
			}
			continue
		}

		task.LineNumber = i + 1
		task.Prefix = pending
		pending = nil
		list.Tasks = append(list.Tasks, task)
	}
	list.Footer = pending

	return list
}

// parseTaskLine interprets the checkbox marker and remainder of a matched
// task line. Returns ok=false for unrecognized markers.
func parseTaskLine(marker, rest string) (Task, bool) {
	switch {
	case marker == " ":
		return Task{Description: rest, Status: Unassigned}, true

	case marker == "x" || marker == "X":
		task := Task{Status: Completed, Initial: UnknownAttribution}
		if m := attributionTail.FindStringSubmatch(rest); m != nil {
			if initial, err := team.ParseInitial(m[1]); err == nil {
				task.Initial = initial
				rest = strings.TrimSuffix(rest, m[0])
			}
		}
		task.Description = rest
		return task, true

	case len(marker) == 1 && marker[0] >= 'A' && marker[0] <= 'Z':
		return Task{Description: rest, Status: Assigned, Initial: team.Initial(marker[0])}, true

	default:
		return Task{}, false
	}
}

// String serializes the list back to file content. For any file produced by
// this system, Parse followed by String reproduces the input byte for byte.
func (l *List) String() string {
	var b strings.Builder
	for _, line := range l.Header {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for i := range l.Tasks {
		for _, line := range l.Tasks[i].Prefix {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		b.WriteString(l.Tasks[i].Line())
		b.WriteByte('\n')
	}
	for _, line := range l.Footer {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// findByNumber returns the index of the task carrying "(#n)", or -1.
func (l *List) findByNumber(n int) int {
	for i := range l.Tasks {
		if l.Tasks[i].Number() == n {
			return i
		}
	}
	return -1
}

// IsBlocked reports whether the task at idx has a blocking task that is not
// yet completed. Blocking status is evaluated dynamically on every call: a
// referenced task completing between calls changes the answer. References
// to unknown task numbers count as blocking (the dependency cannot be
// proven satisfied).
func (l *List) IsBlocked(idx int) bool {
	if idx < 0 || idx >= len(l.Tasks) {
		return false
	}
	for _, n := range l.Tasks[idx].BlockedBy() {
		ref := l.findByNumber(n)
		if ref < 0 || l.Tasks[ref].Status != Completed {
			return true
		}
	}
	return false
}

// IsAssignable reports whether the task at idx is unassigned and unblocked.
func (l *List) IsAssignable(idx int) bool {
	if idx < 0 || idx >= len(l.Tasks) {
		return false
	}
	return l.Tasks[idx].Status == Unassigned && !l.IsBlocked(idx)
}

// AssignableIndices returns the indices of all currently assignable tasks,
// in file order.
func (l *List) AssignableIndices() []int {
	var out []int
	for i := range l.Tasks {
		if l.IsAssignable(i) {
			out = append(out, i)
		}
	}
	return out
}

// NextNumber returns one past the highest "(#N)" number present, or 1 when
// no task carries a number.
func (l *List) NextNumber() int {
	max := 0
	for i := range l.Tasks {
		if n := l.Tasks[i].Number(); n > max {
			max = n
		}
	}
	return max + 1
}

// Append adds a new unassigned task with the next sequential "(#N)" number.
func (l *List) Append(description string) {
	n := l.NextNumber()
	l.Tasks = append(l.Tasks, Task{
		Description: fmt.Sprintf("%s (#%d)", description, n),
		Status:      Unassigned,
	})
}

// Load reads and parses a checklist file.
func Load(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return Parse(string(data)), nil
}

// Save writes the checklist back to disk.
func (l *List) Save(path string) error {
	if err := os.WriteFile(path, []byte(l.String()), 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}
	return nil
}
