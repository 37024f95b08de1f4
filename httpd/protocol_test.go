package httpd

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Request
		wantErr bool
	}{
		{
			name:  "Plain GET",
			input: "GET / HTTP/1.1\r\nHost: device\r\n\r\n",
			want:  Request{Method: "GET", Path: "/"},
		},
		{
			name:  "Query string",
			input: "GET /led?state=on HTTP/1.1\r\n\r\n",
			want:  Request{Method: "GET", Path: "/led", Query: "state=on"},
		},
		{
			name:  "POST with empty query",
			input: "POST /config? HTTP/1.1\r\n\r\n",
			want:  Request{Method: "POST", Path: "/config", Query: ""},
		},
		{
			name:  "No HTTP version token",
			input: "GET /bare\r\n",
			want:  Request{Method: "GET", Path: "/bare"},
		},
		{
			name:    "Missing path",
			input:   "GET\r\n",
			wantErr: true,
		},
		{
			name:    "Path not absolute",
			input:   "GET led HTTP/1.1\r\n",
			wantErr: true,
		},
		{
			name:    "Empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "Binary junk",
			input:   "\x00\x01\x02\x03",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRequest([]byte(tt.input))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestResponseRender(t *testing.T) {
	t.Run("Full frame", func(t *testing.T) {
		resp := Text(http.StatusOK, "hello")
		frame, err := resp.render(512)
		require.NoError(t, err)

		want := "HTTP/1.1 200 OK\r\n" +
			"Content-Type: text/plain\r\n" +
			"Content-Length: 5\r\n" +
			"Connection: close\r\n\r\n" +
			"hello"
		assert.Equal(t, want, string(frame))
	})

	t.Run("Bodyless 204", func(t *testing.T) {
		frame, err := NoContent().render(512)
		require.NoError(t, err)
		assert.Contains(t, string(frame), "HTTP/1.1 204 No Content\r\n")
		assert.Contains(t, string(frame), "Content-Length: 0\r\n")
	})

	t.Run("Too large is rejected whole", func(t *testing.T) {
		resp := Text(http.StatusOK, "0123456789")
		_, err := resp.render(32)
		require.ErrorIs(t, err, ErrResponseTooLarge)
	})
}

func TestRouteTable(t *testing.T) {
	h := func(link int, req *Request) *Response { return NoContent() }

	t.Run("Insertion order preserved, first match wins", func(t *testing.T) {
		tbl := NewRouteTable(4)
		first := func(link int, req *Request) *Response { return Text(200, "first") }
		require.NoError(t, tbl.Handle("/a", first))
		require.NoError(t, tbl.Handle("/a", h))

		got, ok := tbl.lookup("/a")
		require.True(t, ok)
		assert.Equal(t, "first", string(got(0, nil).Body))
	})

	t.Run("Capacity enforced", func(t *testing.T) {
		tbl := NewRouteTable(1)
		require.NoError(t, tbl.Handle("/a", h))
		assert.ErrorIs(t, tbl.Handle("/b", h), ErrRouteTableFull)
	})

	t.Run("Invalid registrations", func(t *testing.T) {
		tbl := NewRouteTable(4)
		assert.ErrorIs(t, tbl.Handle("", h), ErrInvalidRoute)
		assert.ErrorIs(t, tbl.Handle("no-slash", h), ErrInvalidRoute)
		assert.ErrorIs(t, tbl.Handle("/nil", nil), ErrInvalidRoute)
	})

	t.Run("Reset clears for rebuild", func(t *testing.T) {
		tbl := NewRouteTable(2)
		require.NoError(t, tbl.Handle("/a", h))
		tbl.Reset()
		assert.Equal(t, 0, tbl.Len())
		_, ok := tbl.lookup("/a")
		assert.False(t, ok)
	})
}
