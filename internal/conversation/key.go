package conversation

import "strconv"

// Key identifies a session. Each user has their own session in every chat,
// so members of a group never drive each other's dialogue.
type Key struct {
	ChatID int64
	UserID int64
}

// PrivateKey is the key of a one-to-one chat, where the chat is the user.
func PrivateKey(chatID int64) Key {
	return Key{ChatID: chatID, UserID: chatID}
}

func (k Key) String() string {
	return strconv.FormatInt(k.ChatID, 10) + ":" + strconv.FormatInt(k.UserID, 10)
}
