package config

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/darkhz/bttnc/errorkinds"
	"github.com/darkhz/bttnc/kiss"
	"github.com/darkhz/bttnc/theme"
	"github.com/darkhz/bttnc/tnc"
)

var (
	callsignPattern = regexp.MustCompile(`^[A-Z0-9]{3,6}(-([0-9]|1[0-5]))?$`)
	adapterPattern  = regexp.MustCompile(`^hci[0-9]+$`)
)

// Values describes the possible configuration values that a user can
// modify and supply to the application.
type Values struct {
	Adapter   string                   `koanf:"adapter"`
	Callsign  string                   `koanf:"callsign"`
	DeviceMac string                   `koanf:"device-mac"`
	Rfcomm    int                      `koanf:"rfcomm"`
	NoKiss    bool                     `koanf:"no-kiss"`
	PinCode   string                   `koanf:"pin"`
	ScanTicks int                      `koanf:"scan-ticks"`
	Verbose   bool                     `koanf:"verbose"`
	Axports   string                   `koanf:"axports"`
	Kiss      kiss.Params              `koanf:"kiss"`
	Channels  map[string]ChannelRecord `koanf:"channels"`
	Theme     map[string]string        `koanf:"theme"`
}

// ChannelRecord describes the persisted state of a single channel.
type ChannelRecord struct {
	DeviceMac string `koanf:"device-mac"`
}

// Channel returns the selected channel.
func (v *Values) Channel() tnc.Channel {
	return tnc.Channel(v.Rfcomm)
}

// validateValues validates all configuration values.
func (v *Values) validateValues() error {
	for _, validate := range []func() error{
		v.validateAdapter,
		v.validateCallsign,
		v.validateDeviceMac,
		v.validateRfcomm,
		v.validateChannels,
		v.validateScanTicks,
		v.validateKiss,
		v.validateAxports,
		v.validateTheme,
	} {
		if err := validate(); err != nil {
			return err
		}
	}

	return nil
}

// validateAdapter validates the adapter name.
func (v *Values) validateAdapter() error {
	if v.Adapter == "" {
		v.Adapter = "hci0"
		return nil
	}

	if !adapterPattern.MatchString(v.Adapter) {
		return fmt.Errorf("%s: The adapter name is invalid (for example, hci0)", v.Adapter)
	}

	return nil
}

// validateCallsign normalises the callsign to its upper case form.
func (v *Values) validateCallsign() error {
	if v.Callsign == "" {
		return nil
	}

	callsign, err := NormalizeCallsign(v.Callsign)
	if err != nil {
		return err
	}

	v.Callsign = callsign

	return nil
}

// validateDeviceMac validates the address of the last connected device.
func (v *Values) validateDeviceMac() error {
	if v.DeviceMac == "" {
		return nil
	}

	address, err := tnc.ParseAddress(v.DeviceMac)
	if err != nil {
		return err
	}

	v.DeviceMac = address.String()

	return nil
}

// validateRfcomm validates the selected channel index.
func (v *Values) validateRfcomm() error {
	if v.Rfcomm < 0 {
		return fmt.Errorf("invalid channel index: %d", v.Rfcomm)
	}

	return nil
}

// validateChannels validates the persisted channel records.
func (v *Values) validateChannels() error {
	for index, record := range v.Channels {
		if _, err := tnc.ParseChannel(index); err != nil {
			return fmt.Errorf("channels: %w", err)
		}

		if record.DeviceMac == "" {
			continue
		}

		if _, err := tnc.ParseAddress(record.DeviceMac); err != nil {
			return fmt.Errorf("channels.%s: %w", index, err)
		}
	}

	return nil
}

// validateScanTicks validates the discovery duration.
func (v *Values) validateScanTicks() error {
	if v.ScanTicks < 0 {
		return fmt.Errorf("invalid scan duration: %d", v.ScanTicks)
	}

	return nil
}

// validateKiss validates the KISS parameters. If none are set, the defaults are used.
func (v *Values) validateKiss() error {
	if v.Kiss == (kiss.Params{}) {
		v.Kiss = kiss.DefaultParams()
		return nil
	}

	for name, value := range map[string]int{
		"txdelay":  v.Kiss.TxDelay,
		"persist":  v.Kiss.Persist,
		"slottime": v.Kiss.SlotTime,
		"txtail":   v.Kiss.TxTail,
	} {
		if value < 0 {
			return fmt.Errorf("kiss.%s: invalid value %d", name, value)
		}
	}

	if v.Kiss.Persist > 255 {
		return fmt.Errorf("kiss.persist: %d is not between 0 and 255", v.Kiss.Persist)
	}

	return nil
}

// validateAxports sets the default path of the axports file.
func (v *Values) validateAxports() error {
	if v.Axports == "" {
		v.Axports = DefaultAxportsPath
	}

	return nil
}

// validateTheme validates the theme configuration.
func (v *Values) validateTheme() error {
	if len(v.Theme) == 0 {
		return nil
	}

	return theme.ParseThemeConfig(v.Theme)
}

// NormalizeCallsign returns the upper case form of the callsign, and checks
// that it is a valid AX.25 callsign with an optional SSID.
func NormalizeCallsign(callsign string) (string, error) {
	callsign = strings.TrimSpace(callsign)
	if callsign == "" {
		return "", errorkinds.New(errorkinds.ErrCallsignRequired, nil)
	}

	callsign = cases.Upper(language.Und).String(callsign)
	if !callsignPattern.MatchString(callsign) {
		return "", errorkinds.Newf(errorkinds.ErrInvalidCallsign, "%s", callsign)
	}

	return callsign, nil
}
