package cookies

var (
	DeriveKey       = deriveKey
	DecryptChromium = decryptChromium
	ChromeTime      = chromeTime
)
