// Package at defines the text protocol vocabulary of the serial WiFi
// co-processor: command builders, response tokens, and the parser for the
// inline +IPD notification records that carry inbound connection data.
package at

import (
	"fmt"
	"strconv"
)

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	FAIL     = "FAIL"
	SendOK   = "SEND OK"
	SendFail = "SEND FAIL"

	// Marker introduces an inbound notification record in the serial stream.
	Marker = "+IPD"

	// URCs (Unsolicited Result Codes)
	UrcReady        = "ready"
	UrcWifiUp       = "WIFI CONNECTED"
	UrcWifiGotIP    = "WIFI GOT IP"
	UrcWifiDown     = "WIFI DISCONNECT"
	UrcLinkOpened   = ",CONNECT"
	UrcLinkClosed   = ",CLOSED"
)

// Basic commands with no parameters.
const (
	CmdAt         = "AT"
	CmdEchoOff    = "ATE0"
	CmdStation    = "AT+CWMODE=1"
	CmdLocalIP    = "AT+CIFSR"
	CmdServerStop = "AT+CIPSERVER=0"
)

// CmdJoin associates with an access point.
func CmdJoin(ssid, password string) string {
	return fmt.Sprintf(`AT+CWJAP="%s","%s"`, ssid, password)
}

// CmdMux enables or disables multi-connection mode.
func CmdMux(on bool) string {
	if on {
		return "AT+CIPMUX=1"
	}
	return "AT+CIPMUX=0"
}

// CmdAddrInfo toggles the optional "<ip>",<port> clause in +IPD headers.
func CmdAddrInfo(on bool) string {
	if on {
		return "AT+CIPDINFO=1"
	}
	return "AT+CIPDINFO=0"
}

// CmdServerStart opens the built-in TCP server on the given port.
func CmdServerStart(port int) string {
	return "AT+CIPSERVER=1," + strconv.Itoa(port)
}

// CmdServerTimeout sets the co-processor's own server inactivity timeout.
func CmdServerTimeout(seconds int) string {
	return "AT+CIPSTO=" + strconv.Itoa(seconds)
}

// CmdStartTCP opens an outbound TCP connection on the given link id.
func CmdStartTCP(link int, host string, port int) string {
	return fmt.Sprintf(`AT+CIPSTART=%d,"TCP","%s",%d`, link, host, port)
}

// CmdSend requests permission to transmit n raw bytes on a link. The
// co-processor answers with the "> " prompt when it is ready to receive
// them. A negative link selects the single-connection form.
func CmdSend(link, n int) string {
	if link < 0 {
		return "AT+CIPSEND=" + strconv.Itoa(n)
	}
	return fmt.Sprintf("AT+CIPSEND=%d,%d", link, n)
}

// CmdClose closes a link.
func CmdClose(link int) string {
	return "AT+CIPCLOSE=" + strconv.Itoa(link)
}

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR, SEND OK, ...
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output
	TypePrompt                     // Raw-send input prompt
)
