package injector

// uinput ioctl numbers and input_event/uinput_setup layouts, taken
// from <linux/uinput.h> and <linux/input.h>.
const (
	evSyn = 0x00
	evKey = 0x01
	evRel = 0x02

	synReport = 0x00

	relX     = 0x00
	relY     = 0x01
	relWheel = 0x08

	uiSetEvBit  = 0x40045564
	uiSetKeyBit = 0x40045565
	uiSetRelBit = 0x40045566
	uiDevSetup  = 0x405c5503
	uiDevCreate = 0x5501
	uiDevDestroy = 0x5502

	busUSB = 0x03

	uinputMaxNameSize = 80
)

// inputID mirrors struct input_id.
type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// uiSetup mirrors struct uinput_setup (kernel >= 4.5, UI_DEV_SETUP).
type uiSetup struct {
	ID           inputID
	Name         [uinputMaxNameSize]byte
	FFEffectsMax uint32
}
