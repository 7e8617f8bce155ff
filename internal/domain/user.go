// Package domain contains entities without logic, just meta-data.
package domain

type (
	// UserID is the authenticated identity the signaling layer scopes
	// every operation to.
	UserID string

	// ChannelID names one voice channel. A voice Room and a ScreenRoom
	// for the same channel share this key but not their membership.
	ChannelID string
)
