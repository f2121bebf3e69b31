package modem

import (
	"errors"

	"i4.energy/across/sim800gw/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if the Dialer returned no transport or if the Modem was
	// not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when an operation or Close is attempted on
	// a Modem that has already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned when the SIM card requires a PIN and no
	// PIN was provided in the Config.
	//
	// Callers may handle this error specially (for example, by prompting
	// the user for a PIN) and retry initialization.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrModemUnresponsive is returned by New when the modem did not answer
	// the AT probe within the configured number of retries. The session
	// cannot continue and the transport is closed.
	ErrModemUnresponsive = errors.New("modem unresponsive")

	// ErrTimeout is returned when a command that needs an answer got no
	// output at all before its deadline.
	ErrTimeout = errors.New("no response from modem")

	// ErrCommandFailed is returned when the modem answered, but not with the
	// expected token (typically ERROR or +CME ERROR).
	ErrCommandFailed = errors.New("command failed")

	// ErrMalformedResponse is returned when a reply carries the expected
	// header but its fields cannot be read.
	ErrMalformedResponse = at.ErrMalformed

	// ErrNoSMS is returned by ReadSMS when the storage slot is empty.
	ErrNoSMS = errors.New("no message at index")

	// ErrInvalidArgument is returned before anything is sent to the modem
	// when a parameter is out of range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoPowerPin is returned by power operations when the Config has no
	// power key pin.
	ErrNoPowerPin = errors.New("no power pin configured")
)
