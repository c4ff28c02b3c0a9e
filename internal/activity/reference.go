package activity

// ConversationReference captures enough of an incoming activity to address a
// proactive message later.
type ConversationReference struct {
	ActivityID   string              `json:"activityId,omitempty"`
	User         ChannelAccount      `json:"user"`
	Bot          ChannelAccount      `json:"bot"`
	Conversation ConversationAccount `json:"conversation"`
	ChannelID    string              `json:"channelId"`
	ServiceURL   string              `json:"serviceUrl,omitempty"`
}

// GetConversationReference extracts a reference from an incoming activity.
func GetConversationReference(a *Activity) ConversationReference {
	if a == nil {
		return ConversationReference{}
	}
	return ConversationReference{
		ActivityID:   a.ID,
		User:         a.From,
		Bot:          a.Recipient,
		Conversation: a.Conversation,
		ChannelID:    a.ChannelID,
		ServiceURL:   a.ServiceURL,
	}
}

// ApplyConversationReference addresses a from ref. When incoming is true the
// activity looks like it came from the user, otherwise from the bot.
func ApplyConversationReference(a *Activity, ref ConversationReference, incoming bool) *Activity {
	if a == nil {
		a = &Activity{}
	}
	a.ChannelID = ref.ChannelID
	a.ServiceURL = ref.ServiceURL
	a.Conversation = ref.Conversation
	if incoming {
		a.From = ref.User
		a.Recipient = ref.Bot
		if ref.ActivityID != "" {
			a.ID = ref.ActivityID
		}
	} else {
		a.From = ref.Bot
		a.Recipient = ref.User
		if ref.ActivityID != "" {
			a.ReplyToID = ref.ActivityID
		}
	}
	if a.Attachments == nil {
		a.Attachments = []Attachment{}
	}
	return a
}
