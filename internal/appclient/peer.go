package appclient

import "github.com/gotd/td/tg"

// Bot API ids encode the peer type: users are positive, basic groups are the
// negated chat id, and channels/supergroups are -(1e12 + channel id).
const channelIDOffset = 1_000_000_000_000

// inputPeer converts a Bot API style id into an MTProto input peer.
// accessHash is used for users and channels; basic groups have none.
func inputPeer(id, accessHash int64) tg.InputPeerClass {
	switch {
	case id > 0:
		return &tg.InputPeerUser{UserID: id, AccessHash: accessHash}
	case id > -channelIDOffset:
		return &tg.InputPeerChat{ChatID: -id}
	default:
		return &tg.InputPeerChannel{ChannelID: -id - channelIDOffset, AccessHash: accessHash}
	}
}
