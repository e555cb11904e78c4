package telegram

import (
	"strconv"
	"strings"
)

const defaultAPIBase = "https://api.telegram.org"

// channelPermalink builds the t.me deep link for a private channel post.
// Channel ids carry a -100 prefix on the wire that the link format drops.
func channelPermalink(channelID, messageID int64) string {
	id := strconv.FormatInt(channelID, 10)
	id = strings.TrimPrefix(id, "-")
	id = strings.TrimPrefix(id, "100")
	return "https://t.me/c/" + id + "/" + strconv.FormatInt(messageID, 10)
}
