package vom

import (
	"testing"

	"tuid/internal/screen"
	"tuid/internal/terminal"
	"tuid/internal/vt100cell"
)

func TestClusteringCompleteness(t *testing.T) {
	scr := screen.New(20, 2)
	e := terminal.New(scr)
	e.Write([]byte("hello \x1b[31mworld\x1b[0m"))
	buf := scr.Snapshot()

	clusters := Segment(buf)
	want := buf.TextView()
	for y := 0; y < buf.Rows; y++ {
		got := RowText(clusters, y, buf.Cols)
		wantRow := want[y]
		// RowText reconstructs full-width text including trailing blanks,
		// while the TextView line is trimmed; so the cluster text must
		// start with the TextView line.
		if len(got) < len(wantRow) || got[:len(wantRow)] != wantRow {
			t.Fatalf("row %d: cluster concat %q does not start with text-view %q", y, got, wantRow)
		}
	}
}

func TestClassifierPriorityInverseBeatsButton(t *testing.T) {
	scr := screen.New(20, 5)
	e := terminal.New(scr)
	// Move to row index 1 (y<=2) and write an inverse "[ OK ]".
	e.Write([]byte("\x1b[2;1H\x1b[7m[ OK ]\x1b[0m"))
	buf := scr.Snapshot()
	clusters := Segment(buf)
	classifier := &Classifier{}
	comps := classifier.Classify(buf, clusters)

	found := false
	for _, c := range comps {
		if c.Text == "[ OK ]" {
			found = true
			if c.Role != RoleTab {
				t.Fatalf("expected Tab role, got %s", c.Role)
			}
		}
	}
	if !found {
		t.Fatalf("expected a component with text '[ OK ]', got %+v", comps)
	}
}

func TestVisualHashPositionIndependent(t *testing.T) {
	h1 := VisualHash("OK", vt100cell.CellStyle{Bold: true})
	h2 := VisualHash("OK", vt100cell.CellStyle{Bold: true})
	if h1 != h2 {
		t.Fatalf("expected identical hash for identical text+style")
	}
	h3 := VisualHash("OK", vt100cell.CellStyle{Bold: false})
	if h1 == h3 {
		t.Fatalf("expected different hash for different style")
	}
}

func TestCheckboxClassification(t *testing.T) {
	scr := screen.New(10, 2)
	e := terminal.New(scr)
	// Write "[x]" on row 0, then park the cursor on row 1 so rule 1
	// (cursor inside the cluster => Input) does not apply.
	e.Write([]byte("[x]\x1b[2;1H"))
	buf := scr.Snapshot()
	clusters := Segment(buf)
	classifier := &Classifier{}
	comps := classifier.Classify(buf, clusters)
	if len(comps) == 0 || comps[0].Role != RoleCheckbox {
		t.Fatalf("expected checkbox, got %+v", comps)
	}
}
