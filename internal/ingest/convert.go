package ingest

import (
	"time"

	"github.com/gotd/td/tg"

	"telegram-bdintel/internal/store"
)

// unixTime переводит секунды эпохи из API в time.Time; ноль остаётся нулевым
// значением (так хранилище кодирует «не было»).
func unixTime(sec int) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(int64(sec), 0).UTC()
}

// Типы сообщений по виду вложения. Текст в покое шифруется, тип хранится
// открыто и участвует в обогащении (contains_media).
const (
	msgTypeText     = "text"
	msgTypePhoto    = "photo"
	msgTypeVideo    = "video"
	msgTypeVoice    = "voice"
	msgTypeDocument = "document"
	msgTypeSticker  = "sticker"
	msgTypeLocation = "location"
	msgTypeContact  = "contact"
	msgTypePoll     = "poll"
	msgTypeOther    = "other"
)

// messageType классифицирует вложение сообщения. Веб-превью не считается
// вложением: текст со ссылкой остаётся текстом.
func messageType(m *tg.Message) string {
	switch media := m.Media.(type) {
	case nil, *tg.MessageMediaEmpty, *tg.MessageMediaWebPage:
		return msgTypeText
	case *tg.MessageMediaPhoto:
		return msgTypePhoto
	case *tg.MessageMediaDocument:
		return documentType(media)
	case *tg.MessageMediaGeo, *tg.MessageMediaGeoLive, *tg.MessageMediaVenue:
		return msgTypeLocation
	case *tg.MessageMediaContact:
		return msgTypeContact
	case *tg.MessageMediaPoll:
		return msgTypePoll
	default:
		return msgTypeOther
	}
}

// documentType уточняет вид документа по его атрибутам.
func documentType(media *tg.MessageMediaDocument) string {
	doc, ok := media.Document.AsNotEmpty()
	if !ok {
		return msgTypeDocument
	}
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			return msgTypeSticker
		case *tg.DocumentAttributeVideo:
			return msgTypeVideo
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return msgTypeVoice
			}
		}
	}
	return msgTypeDocument
}

// fromUserID определяет автора сообщения. В личных диалогах Telegram часто
// опускает from_id: исходящие принадлежат владельцу аккаунта, входящие — пиру
// диалога (chat_id личного диалога совпадает с user_id собеседника).
func fromUserID(m *tg.Message, chatID, selfID int64) int64 {
	if peer, ok := m.FromID.(*tg.PeerUser); ok {
		return peer.UserID
	}
	if m.Out {
		return selfID
	}
	return chatID
}

// buildMessage собирает строку хранилища без шифртекста; открытый текст
// возвращается отдельно и живёт только до воркера-шифровальщика.
func buildMessage(m *tg.Message, chatID, selfID int64) (store.Message, string) {
	row := store.Message{
		ChatID:      chatID,
		MessageID:   int64(m.ID),
		FromUserID:  fromUserID(m, chatID, selfID),
		Date:        unixTime(m.Date),
		MessageType: messageType(m),
		IsReply:     m.ReplyTo != nil,
		IsForwarded: !m.FwdFrom.Zero(),
		EditDate:    unixTime(m.EditDate),
	}
	return row, m.Message
}

// contactFromUser переводит сущность Telegram в строку контакта. Агрегатные
// поля не заполняются: ими владеет обогащение.
func contactFromUser(u *tg.User) store.Contact {
	return store.Contact{
		UserID:     u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Phone:      u.Phone,
		IsBot:      u.Bot,
		IsVerified: u.Verified,
		IsPremium:  u.Premium,
	}
}

// chatFromUser строит строку чата для личного диалога: chat_id личного диалога
// равен user_id собеседника.
func chatFromUser(u *tg.User) store.Chat {
	return store.Chat{
		ChatID:   u.ID,
		ChatType: store.ChatTypePrivate,
		Title:    displayTitle(u),
		Username: u.Username,
	}
}

// chatFromChat строит строку для обычной группы.
func chatFromChat(c *tg.Chat) store.Chat {
	return store.Chat{
		ChatID:           c.ID,
		ChatType:         store.ChatTypeGroup,
		Title:            c.Title,
		ParticipantCount: c.ParticipantsCount,
	}
}

// chatFromChannel строит строку для канала или супергруппы.
func chatFromChannel(c *tg.Channel) store.Chat {
	chatType := store.ChatTypeChannel
	if c.Megagroup {
		chatType = store.ChatTypeSupergroup
	}
	return store.Chat{
		ChatID:           c.ID,
		ChatType:         chatType,
		Title:            c.Title,
		Username:         c.Username,
		ParticipantCount: c.ParticipantsCount,
	}
}

func displayTitle(u *tg.User) string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}
