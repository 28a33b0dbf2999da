package mc

import (
	"strconv"
	"strings"
)

// Keyence KV addresses use their own device names and numbering. Each
// dialect prefix maps to a MELSEC prefix plus a rule for rewriting the
// device number.
type kvRule int

const (
	kvNone         kvRule = iota // number passes through unchanged
	kvHex                        // channel.point decimal split, emitted as hex digits
	kvDecimal                    // channel.point split, re-read as hex, emitted decimal
	kvDecimalToHex               // decimal number re-emitted as hex
	kvXYToHex                    // X/Y octal-style channel numbering to hex
)

type kvMapping struct {
	melsec string
	rule   kvRule
}

var kvTable = map[string]kvMapping{
	"R":  {"X", kvHex},
	"MR": {"M", kvDecimal},
	"LR": {"L", kvDecimal},
	"DM": {"D", kvNone},
	"FM": {"R", kvNone},
	"B":  {"B", kvNone},
	"ZF": {"ZR", kvDecimalToHex},
	"M":  {"M", kvNone},
	"D":  {"D", kvNone},
	"F":  {"R", kvNone},
	"L":  {"L", kvNone},
	"X":  {"X", kvXYToHex},
	"Y":  {"Y", kvXYToHex},
}

// keyenceNormalize rewrites a Keyence KV address ("R100", "MR300",
// "DM1002", "ZF90"...) into canonical MELSEC form ("X10", "M48",
// "D1002", "ZR5A"...). Prefixes with no MELSEC equivalent (CR, CM, EM,
// T, C) are rejected.
func keyenceNormalize(addr string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(addr))
	prefix, number, ok := splitKVAddress(s)
	if !ok {
		return "", InvalidAddressError{Address: addr, Reason: "unrecognized keyence address"}
	}

	m, ok := kvTable[prefix]
	if !ok {
		return "", InvalidAddressError{Address: addr, Reason: "keyence device " + prefix + " has no melsec equivalent"}
	}

	switch m.rule {
	case kvHex, kvDecimal:
		n, err := strconv.ParseUint(number, 10, 32)
		if err != nil {
			return "", InvalidAddressError{Address: addr, Reason: "bad device number"}
		}
		// KV relay numbers are channel*100 + point, point 0..15.
		point := n % 100
		channel := n / 100
		if point > 16 {
			return "", InvalidAddressError{Address: addr, Reason: "relay point exceeds 16"}
		}
		hexDigits := strconv.FormatUint(point, 16)
		if channel != 0 || m.rule == kvDecimal {
			hexDigits = strconv.FormatUint(channel, 16) + hexDigits
		}
		if m.rule == kvHex {
			return m.melsec + strings.ToUpper(hexDigits), nil
		}
		dec, err := strconv.ParseUint(hexDigits, 16, 32)
		if err != nil {
			return "", InvalidAddressError{Address: addr, Reason: "bad device number"}
		}
		return m.melsec + strconv.FormatUint(dec, 10), nil

	case kvDecimalToHex:
		n, err := strconv.ParseUint(number, 10, 32)
		if err != nil {
			return "", InvalidAddressError{Address: addr, Reason: "bad device number"}
		}
		return m.melsec + strings.ToUpper(strconv.FormatUint(n, 16)), nil

	case kvXYToHex:
		hex, err := convertXYNumber(number)
		if err != nil {
			return "", InvalidAddressError{Address: addr, Reason: "bad device number"}
		}
		return m.melsec + hex, nil

	default:
		return m.melsec + number, nil
	}
}

// convertXYNumber rewrites an X/Y device number where the trailing
// digit is a hex point within a channel and the leading digits are the
// decimal channel number: "100" -> "A0", "20F" -> "14F", "00F" -> "F".
func convertXYNumber(number string) (string, error) {
	if number == "" {
		return "", strconv.ErrSyntax
	}
	if len(number) == 1 {
		n, err := strconv.ParseUint(number, 16, 32)
		if err != nil {
			return "", err
		}
		return strings.ToUpper(strconv.FormatUint(n, 16)), nil
	}

	last := number[len(number)-1:]
	channel, err := strconv.ParseUint(number[:len(number)-1], 10, 32)
	if err != nil {
		channel = 0
	}
	joined := strconv.FormatUint(channel, 16) + last
	n, err := strconv.ParseUint(joined, 16, 32)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(strconv.FormatUint(n, 16)), nil
}

// splitKVAddress splits a KV address into device prefix and number,
// trying two-letter prefixes before one-letter ones.
func splitKVAddress(s string) (prefix, number string, ok bool) {
	if len(s) < 2 {
		return "", "", false
	}

	twoLetter := [...]string{"DM", "FM", "MR", "LR", "CR", "CM", "EM", "ZF"}
	oneLetter := [...]string{"R", "X", "Y", "B", "T", "C", "M", "L", "D", "F"}

	n := 0
	for _, p := range twoLetter {
		if len(s) > 2 && strings.HasPrefix(s, p) {
			n = 2
			break
		}
	}
	if n == 0 {
		for _, p := range oneLetter {
			if strings.HasPrefix(s, p) {
				n = 1
				break
			}
		}
	}
	if n == 0 {
		return "", "", false
	}

	prefix, number = s[:n], s[n:]
	for i := 0; i < len(number); i++ {
		c := number[i]
		if !isAlnum(c) && c != '.' && c != '-' {
			return "", "", false
		}
	}
	if number == "" {
		return "", "", false
	}
	return prefix, number, true
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z'
}
