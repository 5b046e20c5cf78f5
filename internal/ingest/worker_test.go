package ingest_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"padu/internal/domain"
	"padu/internal/ingest"
)

func csvWithRows(n int) string {
	var b strings.Builder
	b.WriteString("date,platform,rating,text\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "2025-01-%02d,google,%d,row %d\n", i%28+1, i%5+1, i)
	}
	return b.String()
}

func collect(ch <-chan domain.ParseMessage) []domain.ParseMessage {
	var out []domain.ParseMessage
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func newWorker() *ingest.Worker { return ingest.New(0, 0, zerolog.Nop()) }

func TestWorker_2500Rows(t *testing.T) {
	msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(csvWithRows(2500))}))

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d: %+v", len(msgs), msgs)
	}
	for i, want := range []int{1000, 2000} {
		m := msgs[i]
		if m.Type != domain.MessageProgress || m.Parsed != want || m.Total != want {
			t.Fatalf("msg %d = %+v, want progress %d", i, m, want)
		}
	}
	last := msgs[2]
	if last.Type != domain.MessageComplete || last.Total != 2500 || len(last.Preview) != 100 {
		t.Fatalf("unexpected complete: type=%s total=%d preview=%d", last.Type, last.Total, len(last.Preview))
	}
	if got := last.Preview[0]["text"]; got != "row 1" {
		t.Fatalf("first preview row text = %q", got)
	}
	if got := last.Preview[99]["text"]; got != "row 100" {
		t.Fatalf("last preview row text = %q", got)
	}
}

func TestWorker_CompleteJSONWithoutRows(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"header only", "a,b\n", `{"type":"complete","preview":[],"total":0,"headers":["a","b"]}`},
		{"empty file", "", `{"type":"complete","preview":[],"total":0,"headers":[]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(tc.in)}))
			if len(msgs) != 1 {
				t.Fatalf("expected one message, got %+v", msgs)
			}
			b, err := json.Marshal(msgs[0])
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != tc.want {
				t.Fatalf("got %s\nwant %s", b, tc.want)
			}
		})
	}
}

func TestParseMessage_JSONByType(t *testing.T) {
	cases := map[string]domain.ParseMessage{
		`{"type":"progress","parsed":1000,"total":1000}`: domain.ProgressMessage(1000),
		`{"type":"error","error":"bad quote"}`:           domain.ErrorMessage("bad quote"),
	}
	for want, m := range cases {
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != want {
			t.Fatalf("got %s, want %s", b, want)
		}
	}
}

func TestWorker_TotalsAndPreviewBounds(t *testing.T) {
	for _, n := range []int{0, 1, 99, 100, 101, 999, 1000, 1001} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(csvWithRows(n))}))
			last := msgs[len(msgs)-1]
			if last.Type != domain.MessageComplete {
				t.Fatalf("expected complete, got %+v", last)
			}
			if last.Total != n || len(last.Preview) != min(n, 100) {
				t.Fatalf("total=%d preview=%d, want %d/%d", last.Total, len(last.Preview), n, min(n, 100))
			}
			progress := 0
			for _, m := range msgs[:len(msgs)-1] {
				if m.Type != domain.MessageProgress || m.Parsed%1000 != 0 || m.Parsed == 0 {
					t.Fatalf("unexpected non-terminal message %+v", m)
				}
				progress++
			}
			if progress != n/1000 {
				t.Fatalf("progress messages = %d, want %d", progress, n/1000)
			}
		})
	}
}

func TestWorker_HeadersCapturedOnce(t *testing.T) {
	in := "\ufeffdate,rating,text,text\n2025-01-01,5,great,again\ndate,rating,text\n"
	msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(in)}))
	last := msgs[len(msgs)-1]

	want := []string{"date", "rating", "text", "text_1"}
	if strings.Join(last.Headers, "|") != strings.Join(want, "|") {
		t.Fatalf("headers = %v, want %v", last.Headers, want)
	}
	// a later row that looks like a header is just data
	if last.Total != 2 || last.Preview[1]["date"] != "date" {
		t.Fatalf("unexpected rows: total=%d preview=%+v", last.Total, last.Preview)
	}
	if last.Preview[0]["text_1"] != "again" {
		t.Fatalf("duplicate header value lost: %+v", last.Preview[0])
	}
}

func TestWorker_SkipsBlankLinesGreedily(t *testing.T) {
	in := "\n\nrating,text\n\n5,a\n   \n , \n\n4,b\n\n\n   \n"
	msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(in)}))
	last := msgs[len(msgs)-1]
	if last.Type != domain.MessageComplete || last.Total != 2 {
		t.Fatalf("expected 2 rows, got %+v", last)
	}
	if last.Preview[1]["text"] != "b" {
		t.Fatalf("unexpected second row %+v", last.Preview[1])
	}
}

func TestWorker_ValuesStayText(t *testing.T) {
	in := "rating,verified,when\n 04.50 ,TRUE,2025-01-01T10:00:00Z\n"
	msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(in)}))
	row := msgs[len(msgs)-1].Preview[0]
	if row["rating"] != " 04.50 " || row["verified"] != "TRUE" {
		t.Fatalf("values were coerced: %+v", row)
	}
}

func TestWorker_RaggedRows(t *testing.T) {
	in := "a,b\n1\n1,2,3,4\n"
	msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(in)}))
	last := msgs[len(msgs)-1]
	if last.Total != 2 {
		t.Fatalf("total = %d", last.Total)
	}
	if _, ok := last.Preview[0]["b"]; ok {
		t.Fatalf("missing field should be absent: %+v", last.Preview[0])
	}
	if last.Preview[1][ingest.ExtraFieldsKey] != "3,4" {
		t.Fatalf("extra fields = %+v", last.Preview[1])
	}
}

func TestWorker_NoFile(t *testing.T) {
	msgs := collect(newWorker().Start(ingest.Request{}))
	if len(msgs) != 1 || msgs[0].Type != domain.MessageError || msgs[0].Error != domain.ErrNoFile.Error() {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestWorker_MalformedInputEmitsSingleError(t *testing.T) {
	var b strings.Builder
	b.WriteString(csvWithRows(1500))
	b.WriteString("2025-02-01,google,5,\"unterminated\n")
	msgs := collect(newWorker().Start(ingest.Request{File: strings.NewReader(b.String())}))

	if len(msgs) != 2 {
		t.Fatalf("expected progress + error, got %+v", msgs)
	}
	if msgs[0].Type != domain.MessageProgress || msgs[0].Parsed != 1000 {
		t.Fatalf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].Type != domain.MessageError || !strings.Contains(msgs[1].Error, "row") {
		t.Fatalf("unexpected terminal message %+v", msgs[1])
	}
}

type failingReader struct{ after io.Reader }

func (f *failingReader) Read(p []byte) (int, error) {
	n, err := f.after.Read(p)
	if errors.Is(err, io.EOF) {
		return n, errors.New("connection reset")
	}
	return n, err
}

func TestWorker_ReaderError(t *testing.T) {
	msgs := collect(newWorker().Start(ingest.Request{File: &failingReader{after: strings.NewReader("a,b\n1,2\n")}}))
	last := msgs[len(msgs)-1]
	if last.Type != domain.MessageError || !strings.Contains(last.Error, "connection reset") {
		t.Fatalf("unexpected terminal message %+v", last)
	}
}

func TestWorker_CustomLimits(t *testing.T) {
	w := ingest.New(5, 10, zerolog.Nop())
	var msgs []domain.ParseMessage
	w.Run(ingest.Request{File: strings.NewReader(csvWithRows(25))}, func(m domain.ParseMessage) { msgs = append(msgs, m) })

	if len(msgs) != 3 || msgs[0].Parsed != 10 || msgs[1].Parsed != 20 {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if last := msgs[2]; last.Total != 25 || len(last.Preview) != 5 {
		t.Fatalf("unexpected complete %+v", last)
	}
}
