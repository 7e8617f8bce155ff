package domain

// VoiceState is a user's current standing in voice. Ephemeral: held
// in-memory only and reconstructible from live connections. An empty
// ChannelID means the user left voice; broadcast listeners use it as
// the terminal artifact for a torn-down session.
type VoiceState struct {
	UserID     UserID    `json:"user_id"`
	ChannelID  ChannelID `json:"channel_id,omitempty"`
	SelfMute   bool      `json:"self_mute"`
	SelfDeafen bool      `json:"self_deafen"`
	ServerMute bool      `json:"server_mute"`
	Speaking   bool      `json:"speaking"`
}

// ScreenShare identifies one channel's active share.
type ScreenShare struct {
	UserID    UserID    `json:"user_id"`
	ChannelID ChannelID `json:"channel_id"`
}
