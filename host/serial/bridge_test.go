package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// lineProcessor answers every complete line with "ok"
type lineProcessor struct {
	line  []byte
	lines []string
	out   []byte
}

func (p *lineProcessor) ProcessByteContext(ctx context.Context, b byte) error {
	if b != '\n' {
		p.line = append(p.line, b)
		return nil
	}
	if len(p.line) == 0 {
		return nil
	}
	p.lines = append(p.lines, string(p.line))
	p.line = p.line[:0]
	p.out = append(p.out, "ok\n"...)
	return nil
}

func (p *lineProcessor) GetOutput() []byte {
	out := p.out
	p.out = nil
	return out
}

type mockPort struct {
	io.Reader
	bytes.Buffer
}

func (m *mockPort) Write(b []byte) (int, error) { return m.Buffer.Write(b) }
func (m *mockPort) Read(b []byte) (int, error)  { return m.Reader.Read(b) }

func TestServe(t *testing.T) {
	tests := []struct {
		name  string
		input string
		lines []string
	}{
		{"lines", "G28\nG1 X10\n", []string{"G28", "G1 X10"}},
		{"no final newline", "G28\nM114", []string{"G28", "M114"}},
		{"blank lines", "\n\nM400\n", []string{"M400"}},
	}

	for _, test := range tests {
		port := &mockPort{Reader: strings.NewReader(test.input)}
		p := &lineProcessor{}
		if err := Serve(context.Background(), port, p); err != nil {
			t.Fatalf("%s: Serve: %v", test.name, err)
		}
		if strings.Join(p.lines, "|") != strings.Join(test.lines, "|") {
			t.Errorf("%s: lines = %q, want %q", test.name, p.lines, test.lines)
		}
		if want := strings.Repeat("ok\n", len(test.lines)); port.String() != want {
			t.Errorf("%s: replies = %q, want %q", test.name, port.String(), want)
		}
	}
}

func TestServeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	port := &mockPort{Reader: strings.NewReader("G28\n")}
	if err := Serve(ctx, port, &lineProcessor{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestServeReadError(t *testing.T) {
	port := &mockPort{Reader: failingReader{}}
	err := Serve(context.Background(), port, &lineProcessor{})
	if err == nil || !strings.Contains(err.Error(), "device unplugged") {
		t.Errorf("Serve = %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Baud != 250000 || cfg.ReadTimeout != 100 || cfg.Device != "/dev/ttyACM0" {
		t.Errorf("DefaultConfig = %+v", cfg)
	}
}
