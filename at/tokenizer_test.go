package at_test

import (
	"bufio"
	"strings"
	"testing"

	"i4.energy/across/wifigw/at"
)

func TestSplitter(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Simple command response",
			input:    "AT+CWMODE=1\r\nOK\r\n",
			expected: []string{"AT+CWMODE=1", "OK"},
		},
		{
			name:     "Join failure",
			input:    "+CWJAP:3\r\nFAIL\r\n",
			expected: []string{"+CWJAP:3", "FAIL"},
		},
		{
			name:     "Raw send sequence",
			input:    "AT+CIPSEND=0,5\r\nOK\r\n> hello\r\nSEND OK\r\n",
			expected: []string{"AT+CIPSEND=0,5", "OK", "> ", "hello", "SEND OK"},
		},
		{
			name:     "Prompt only",
			input:    "> ",
			expected: []string{"> "},
		},
		{
			name:     "URC mixed with response",
			input:    "WIFI GOT IP\r\n+CIFSR:STAIP,\"192.168.4.2\"\r\nOK\r\n",
			expected: []string{"WIFI GOT IP", "+CIFSR:STAIP,\"192.168.4.2\"", "OK"},
		},
		{
			name:     "Link lifecycle URCs",
			input:    "0,CONNECT\r\n0,CLOSED\r\nready\r\n",
			expected: []string{"0,CONNECT", "0,CLOSED", "ready"},
		},
		{
			name:     "Empty lines handling",
			input:    "\r\n\r\nAT\r\nOK\r\n\r\n",
			expected: []string{"", "", "AT", "OK", ""},
		},
		{
			name:     "Trailing data without CRLF",
			input:    "OK\r\nSEND",
			expected: []string{"OK", "SEND"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.Splitter)

			var got []string
			for scanner.Scan() {
				got = append(got, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				t.Fatalf("scanner error: %v", err)
			}

			if len(got) != len(tt.expected) {
				t.Fatalf("token count = %d (%q), want %d (%q)", len(got), got, len(tt.expected), tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("token %d = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line string
		want at.ResponseType
	}{
		{"OK", at.TypeFinal},
		{"ERROR", at.TypeFinal},
		{"FAIL", at.TypeFinal},
		{"SEND OK", at.TypeFinal},
		{"SEND FAIL", at.TypeFinal},
		{"> ", at.TypePrompt},
		{"ready", at.TypeURC},
		{"WIFI CONNECTED", at.TypeURC},
		{"WIFI GOT IP", at.TypeURC},
		{"WIFI DISCONNECT", at.TypeURC},
		{"0,CONNECT", at.TypeURC},
		{"3,CLOSED", at.TypeURC},
		{"+CIFSR:STAIP,\"10.0.0.7\"", at.TypeData},
		{"+CWJAP:1", at.TypeData},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := at.Classify(tt.line); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
