package model

// EmailPayload is the fully rendered email handed to the email dispatcher.
type EmailPayload struct {
	To              string            `json:"to"`
	ToName          string            `json:"to_name,omitempty"`
	Subject         string            `json:"subject"`
	HTMLBody        string            `json:"html_body"`
	TextBody        string            `json:"text_body,omitempty"`
	FromName        string            `json:"from_name,omitempty"`
	ReplyTo         string            `json:"reply_to,omitempty"`
	UnsubscribeLink string            `json:"unsubscribe_link,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	TrackOpens      bool              `json:"track_opens"`
	TrackClicks     bool              `json:"track_clicks"`
}

// PushAction is one action button attached to a web push notification.
type PushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// PushPayload is the fully rendered web push message. Data carries the
// deep-link URL and correlation ids consumed by the service worker.
type PushPayload struct {
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Icon               string            `json:"icon,omitempty"`
	Badge              string            `json:"badge,omitempty"`
	Image              string            `json:"image,omitempty"`
	RequireInteraction bool              `json:"require_interaction"`
	Actions            []PushAction      `json:"actions,omitempty"`
	Data               map[string]string `json:"data,omitempty"`
	TTL                int               `json:"ttl,omitempty"`
}
