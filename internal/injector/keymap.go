package injector

// Linux evdev key codes for a US-QWERTY layout (see
// <linux/input-event-codes.h>). The virtual device advertises every
// key code in [0, 256), so TypeString maps runes directly to these
// rather than to USB HID usage IDs.
const (
	keyEsc        = 1
	key1          = 2
	key2          = 3
	key3          = 4
	key4          = 5
	key5          = 6
	key6          = 7
	key7          = 8
	key8          = 9
	key9          = 10
	key0          = 11
	keyMinus      = 12
	keyEqual      = 13
	keyBackspace  = 14
	keyTab        = 15
	keyQ          = 16
	keyW          = 17
	keyE          = 18
	keyR          = 19
	keyT          = 20
	keyY          = 21
	keyU          = 22
	keyI          = 23
	keyO          = 24
	keyP          = 25
	keyLeftBrace  = 26
	keyRightBrace = 27
	keyEnter      = 28
	keyA          = 30
	keyS          = 31
	keyD          = 32
	keyF          = 33
	keyG          = 34
	keyH          = 35
	keyJ          = 36
	keyK          = 37
	keyL          = 38
	keySemicolon  = 39
	keyApostrophe = 40
	keyGrave      = 41
	keyLeftShift  = 42
	keyBackslash  = 43
	keyZ          = 44
	keyX          = 45
	keyC          = 46
	keyV          = 47
	keyB          = 48
	keyN          = 49
	keyM          = 50
	keyComma      = 51
	keyDot        = 52
	keySlash      = 53
	keySpace      = 57
)

type keyMapping struct {
	code  uint16
	shift bool
}

// qwerty maps a rune to the key to press and whether to hold
// left-shift while doing so.
var qwerty = buildQwertyTable()

func buildQwertyTable() map[rune]keyMapping {
	m := make(map[rune]keyMapping, 128)

	lower := "abcdefghijklmnopqrstuvwxyz"
	lowerCodes := []uint16{
		keyA, keyB, keyC, keyD, keyE, keyF, keyG, keyH, keyI, keyJ, keyK, keyL, keyM,
		keyN, keyO, keyP, keyQ, keyR, keyS, keyT, keyU, keyV, keyW, keyX, keyY, keyZ,
	}
	for i, r := range lower {
		m[r] = keyMapping{code: lowerCodes[i]}
		m[r-32] = keyMapping{code: lowerCodes[i], shift: true} // uppercase
	}

	digits := "1234567890"
	digitCodes := []uint16{key1, key2, key3, key4, key5, key6, key7, key8, key9, key0}
	for i, r := range digits {
		m[r] = keyMapping{code: digitCodes[i]}
	}

	shiftedDigits := "!@#$%^&*()"
	for i, r := range shiftedDigits {
		m[r] = keyMapping{code: digitCodes[i], shift: true}
	}

	m[' '] = keyMapping{code: keySpace}
	m['\t'] = keyMapping{code: keyTab}
	m['\n'] = keyMapping{code: keyEnter}
	m['\r'] = keyMapping{code: keyEnter}

	m['-'] = keyMapping{code: keyMinus}
	m['_'] = keyMapping{code: keyMinus, shift: true}
	m['='] = keyMapping{code: keyEqual}
	m['+'] = keyMapping{code: keyEqual, shift: true}
	m['['] = keyMapping{code: keyLeftBrace}
	m['{'] = keyMapping{code: keyLeftBrace, shift: true}
	m[']'] = keyMapping{code: keyRightBrace}
	m['}'] = keyMapping{code: keyRightBrace, shift: true}
	m[';'] = keyMapping{code: keySemicolon}
	m[':'] = keyMapping{code: keySemicolon, shift: true}
	m['\''] = keyMapping{code: keyApostrophe}
	m['"'] = keyMapping{code: keyApostrophe, shift: true}
	m['`'] = keyMapping{code: keyGrave}
	m['~'] = keyMapping{code: keyGrave, shift: true}
	m['\\'] = keyMapping{code: keyBackslash}
	m['|'] = keyMapping{code: keyBackslash, shift: true}
	m[','] = keyMapping{code: keyComma}
	m['<'] = keyMapping{code: keyComma, shift: true}
	m['.'] = keyMapping{code: keyDot}
	m['>'] = keyMapping{code: keyDot, shift: true}
	m['/'] = keyMapping{code: keySlash}
	m['?'] = keyMapping{code: keySlash, shift: true}

	return m
}
