package forwarder

import (
	"strconv"
	"time"
)

const EventInboxReceived = "InboxReceived"

// Attachment types as understood by the integration backend.
const (
	AttachmentImage    = "Image"
	AttachmentVoice    = "Voice"
	AttachmentVideo    = "Video"
	AttachmentAudio    = "Audio"
	AttachmentDocument = "Document"
)

// Attachment is a file reference carried by an inbound event.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Mime string `json:"mime"`
	Name string `json:"name,omitempty"`
}

type Contact struct {
	ExternalID string `json:"externalId"`
}

type Chat struct {
	ExternalID        string  `json:"externalId"`
	MessengerInstance string  `json:"messengerInstance"`
	MessengerID       string  `json:"messengerId"`
	Contact           Contact `json:"contact"`
}

type Message struct {
	ExternalID  string       `json:"externalId"`
	Text        string       `json:"text"`
	Date        string       `json:"date"`
	Attachments []Attachment `json:"attachments"`
}

type ExtraData struct {
	MessageType string `json:"messageType,omitempty"`
	Project     string `json:"project,omitempty"`
	ReqID       string `json:"reqId,omitempty"`
}

type ExternalItem struct {
	ExtraData ExtraData `json:"extraData"`
}

// Event is the normalized envelope posted to the integration backend.
type Event struct {
	EventType    string       `json:"eventType"`
	Timestamp    int64        `json:"timestamp"`
	Chat         Chat         `json:"chat"`
	Participant  string       `json:"participant"`
	Message      Message      `json:"message"`
	ExternalItem ExternalItem `json:"externalItem"`
}

// Inbound is the content of one inbound message before it is wrapped.
type Inbound struct {
	BotID       int64
	ContactID   int64
	MessageID   string
	Participant string
	Text        string
	Attachments []Attachment
	MessageType string
	Project     string
	ReqID       string
}

// NewInboxEvent wraps in into an InboxReceived envelope stamped with now.
func NewInboxEvent(in Inbound, now time.Time) Event {
	bot := strconv.FormatInt(in.BotID, 10)
	contact := strconv.FormatInt(in.ContactID, 10)
	attachments := in.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	messageType := in.MessageType
	if messageType == "" {
		messageType = "text"
	}
	return Event{
		EventType: EventInboxReceived,
		Timestamp: now.Unix(),
		Chat: Chat{
			ExternalID:        contact,
			MessengerInstance: bot,
			MessengerID:       bot,
			Contact:           Contact{ExternalID: contact},
		},
		Participant: in.Participant,
		Message: Message{
			ExternalID:  in.MessageID,
			Text:        in.Text,
			Date:        now.Format("02.01.2006"),
			Attachments: attachments,
		},
		ExternalItem: ExternalItem{ExtraData: ExtraData{
			MessageType: messageType,
			Project:     in.Project,
			ReqID:       in.ReqID,
		}},
	}
}
