package cli

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader_ReadLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain line", input: "test input\n", want: "test input"},
		{name: "surrounding whitespace", input: "  test input  \n", want: "test input"},
		{name: "empty line", input: "\n", want: ""},
		{name: "no trailing newline", input: "last", want: "last"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewLineReader(strings.NewReader(tt.input))
			got, err := reader.ReadLine(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineReader_EOF(t *testing.T) {
	reader := NewLineReader(strings.NewReader(""))
	_, err := reader.ReadLine(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineReader_Canceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	reader := NewLineReader(pr)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := reader.ReadLine(ctx)
	assert.ErrorIs(t, err, ErrInputCanceled)
}

func TestLineReader_Sequential(t *testing.T) {
	reader := NewLineReader(strings.NewReader("one\ntwo\n"))
	first, err := reader.ReadLine(context.Background())
	require.NoError(t, err)
	second, err := reader.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, []string{first, second})
}
