package modem

import (
	"context"
	"fmt"
	"time"

	"i4.energy/across/sim800gw/at"
)

const (
	whitelistSetTimeout   = 20 * time.Second
	whitelistQueryTimeout = 30 * time.Second
	// WhitelistSize is the number of slots the SIM800 keeps.
	WhitelistSize = 30
)

// WhitelistMode selects what the caller whitelist filters.
type WhitelistMode int

const (
	WhitelistOff WhitelistMode = iota
	WhitelistCalls
	WhitelistSMS
	WhitelistAll
)

// Whitelist is the AT+CWHITELIST state.
type Whitelist struct {
	Mode    WhitelistMode
	Numbers []string
}

// SetWhitelist enables mode and stores number in slot index (1-based).
func (m *Modem) SetWhitelist(ctx context.Context, mode WhitelistMode, index int, number string) error {
	if mode < WhitelistOff || mode > WhitelistAll || index < 1 || index > WhitelistSize {
		return ErrInvalidArgument
	}
	if err := checkDialString("number", number); err != nil {
		return err
	}
	cmd := fmt.Sprintf("AT+CWHITELIST=%d,%d,%s\r\n", mode, index, number)
	_, err := m.command(ctx, cmd, whitelistSetTimeout)
	return err
}

func (m *Modem) DisableWhitelist(ctx context.Context) error {
	_, err := m.command(ctx, at.CmdWhitelistOff, whitelistSetTimeout)
	return err
}

func (m *Modem) Whitelist(ctx context.Context) (Whitelist, error) {
	resp, err := m.command(ctx, at.CmdWhitelistQuery, whitelistQueryTimeout)
	if err != nil {
		return Whitelist{}, err
	}
	mode, numbers, err := at.ParseWhitelist(resp)
	if err != nil {
		return Whitelist{}, err
	}
	return Whitelist{Mode: WhitelistMode(mode), Numbers: numbers}, nil
}
