package tgui

// MaxMessageLen is Telegram's limit on the text of one message, in
// characters after entity parsing. Raw HTML counts against it too when
// the text is sent with ParseMode="HTML".
const MaxMessageLen = 4096
