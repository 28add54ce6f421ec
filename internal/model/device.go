package model

import "time"

// DeviceIdentity is the credential set issued by the cloud when a screen
// claims this device. Its absence means the device is unpaired.
type DeviceIdentity struct {
	DeviceToken string    `json:"-"`
	ScreenID    string    `json:"screenId"`
	ScreenName  string    `json:"screenName"`
	PairedAt    time.Time `json:"pairedAt"`
}

// PairingSession is an in-memory pairing code waiting to be claimed.
type PairingSession struct {
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s PairingSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s PairingSession) Remaining(now time.Time) time.Duration {
	if s.Expired(now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// DeviceInfo describes the hardware sent along with a pairing request.
type DeviceInfo struct {
	DeviceID   string `json:"device_id"`
	Hostname   string `json:"hostname"`
	Platform   string `json:"platform"`
	IPAddress  string `json:"ip_address"`
	MACAddress string `json:"mac_address"`
	Timestamp  string `json:"timestamp"`
}
