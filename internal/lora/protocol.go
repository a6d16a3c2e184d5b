package lora

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a line emitted by the bridge firmware.
type Kind int

const (
	KindUnknown Kind = iota
	KindRX
	KindQuality
	KindTxDone
	KindTxTimeout
	KindRxTimeout
	KindRxError
)

func (k Kind) String() string {
	switch k {
	case KindRX:
		return "rx"
	case KindQuality:
		return "quality"
	case KindTxDone:
		return "tx_done"
	case KindTxTimeout:
		return "tx_timeout"
	case KindRxTimeout:
		return "rx_timeout"
	case KindRxError:
		return "rx_error"
	default:
		return "unknown"
	}
}

// Line is one parsed firmware line.
type Line struct {
	Kind    Kind
	Payload string
	RSSI    float64
	SNR     float64
}

// ParseLine classifies raw, which may still carry a trailing CR.
//
//	RX:<payload>
//	RSSI:<v> dBm, SNR:<raw>/4 dB
//	TXDONE | TXTIMEOUT | RXTIMEOUT | RXERROR
//	OnTxTimeout | OnRxTimeout | OnRxError
func ParseLine(raw string) Line {
	s := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(s, "RX:"):
		return Line{Kind: KindRX, Payload: strings.TrimPrefix(s, "RX:")}
	case strings.HasPrefix(s, "RSSI:"):
		rssi, snr, err := parseQuality(s)
		if err != nil {
			return Line{Kind: KindUnknown, Payload: s}
		}
		return Line{Kind: KindQuality, RSSI: rssi, SNR: snr}
	}

	switch s {
	case "TXDONE":
		return Line{Kind: KindTxDone}
	case "TXTIMEOUT", "OnTxTimeout":
		return Line{Kind: KindTxTimeout}
	case "RXTIMEOUT", "OnRxTimeout":
		return Line{Kind: KindRxTimeout}
	case "RXERROR", "OnRxError":
		return Line{Kind: KindRxError}
	}
	return Line{Kind: KindUnknown, Payload: s}
}

// parseQuality reads "RSSI:-87 dBm, SNR:24/4 dB". The radio reports SNR in
// quarter dB, so the raw value is divided by the given denominator.
func parseQuality(s string) (rssi, snr float64, err error) {
	rssiPart, snrPart, ok := strings.Cut(strings.TrimPrefix(s, "RSSI:"), ",")
	if !ok {
		return 0, 0, fmt.Errorf("missing SNR in %q", s)
	}

	rssiPart = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rssiPart), "dBm"))
	rssi, err = strconv.ParseFloat(rssiPart, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad RSSI %q: %w", rssiPart, err)
	}

	snrPart = strings.TrimPrefix(strings.TrimSpace(snrPart), "SNR:")
	snrPart = strings.TrimSpace(strings.TrimSuffix(snrPart, "dB"))
	num, den, hasDen := strings.Cut(snrPart, "/")
	raw, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad SNR %q: %w", snrPart, err)
	}
	div := 1.0
	if hasDen {
		div, err = strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil || div == 0 {
			return 0, 0, fmt.Errorf("bad SNR divisor %q", den)
		}
	}
	return rssi, raw / div, nil
}

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// EncodeTX frames payload as a transmit command. Embedded line breaks
// would split the command, so they become spaces.
func EncodeTX(payload string) []byte {
	return []byte("TX:" + newlines.Replace(payload) + "\n")
}

// AlertPayload is the message sent when deterrence is raised.
func AlertPayload(angle float64) string {
	return fmt.Sprintf("LOUP_ANGLE:%.1f", angle)
}
