package generate

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/tordrt/schemamigrate/internal/schema"
)

// Confirmer decides whether a detected rename really is one. Rejected
// renames fall back to independent add and remove entries.
type Confirmer interface {
	ConfirmTableRename(rename schema.TableRename) (bool, error)
	ConfirmColumnRename(rename schema.ColumnRename) (bool, error)
}

// StdinConfirmer prompts on Out and reads y/n answers from In.
type StdinConfirmer struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewStdinConfirmer creates an interactive confirmer over the given streams.
func NewStdinConfirmer(in io.Reader, out io.Writer) *StdinConfirmer {
	return &StdinConfirmer{In: in, Out: out, reader: bufio.NewReader(in)}
}

func (c *StdinConfirmer) ConfirmTableRename(rename schema.TableRename) (bool, error) {
	return c.ask(fmt.Sprintf("Rename table %q to %q? (confidence %.2f)", rename.From, rename.To, rename.Confidence))
}

func (c *StdinConfirmer) ConfirmColumnRename(rename schema.ColumnRename) (bool, error) {
	return c.ask(fmt.Sprintf("Rename column %s.%q to %q? (confidence %.2f)",
		rename.Table, rename.From, rename.To, rename.Confidence))
}

func (c *StdinConfirmer) ask(question string) (bool, error) {
	fmt.Fprintf(c.Out, "%s [y/N]: ", question)
	line, err := c.reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// AutoApprove accepts every detected rename without prompting.
type AutoApprove struct{}

func (AutoApprove) ConfirmTableRename(schema.TableRename) (bool, error)   { return true, nil }
func (AutoApprove) ConfirmColumnRename(schema.ColumnRename) (bool, error) { return true, nil }
