package ingest

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"telegram-bdintel/internal/store"
)

const (
	dialogPageLimit = 100
	zeroOffset      = 0
)

var errDialogsNotModified = errors.New("dialogs not modified")

// Dialog — один перечисленный диалог, готовый к чтению истории.
type Dialog struct {
	Kind   string // user | chat | channel
	ChatID int64  // для личных диалогов равен user_id собеседника
	Title  string
	Peer   tg.InputPeerClass
}

// dialogBatch — накопленный результат перечисления: сами диалоги и сущности,
// приехавшие вместе с ними.
type dialogBatch struct {
	dialogs []Dialog
	users   []tg.UserClass
	chats   []tg.ChatClass
}

// fetchDialogs последовательно выгружает весь список диалогов через
// MessagesGetDialogs. Пагинация по (offset_date, offset_id, offset_peer)
// с использованием заранее собранных access_hash.
func fetchDialogs(ctx context.Context, api *tg.Client) (*dialogBatch, error) {
	result := &dialogBatch{}

	offsetDate := zeroOffset
	offsetID := zeroOffset
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}

	userHashes := make(map[int64]int64)
	channelHashes := make(map[int64]int64)

	for {
		resp, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetDate: offsetDate,
			OffsetID:   offsetID,
			OffsetPeer: offsetPeer,
			Limit:      dialogPageLimit,
		})
		if err != nil {
			return nil, errors.Wrap(err, "MessagesGetDialogs")
		}

		batch, err := normalizeDialogsResponse(resp)
		if err != nil {
			if errors.Is(err, errDialogsNotModified) {
				return result, nil
			}
			return nil, err
		}

		if len(batch.Dialogs) == 0 {
			break
		}

		updateHashesFromBatch(batch, userHashes, channelHashes)
		result.users = append(result.users, batch.Users...)
		result.chats = append(result.chats, batch.Chats...)
		result.appendDialogs(batch, userHashes, channelHashes)

		lastDialog := batch.Dialogs[len(batch.Dialogs)-1]
		prevOffsetDate := offsetDate
		prevOffsetID := offsetID

		switch dlg := lastDialog.(type) {
		case *tg.Dialog:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		case *tg.DialogFolder:
			offsetID = dlg.TopMessage
			offsetDate = messageDate(batch.Messages, dlg.TopMessage)
			offsetPeer = dialogPeerToInput(dlg.Peer, userHashes, channelHashes)
		default:
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if offsetDate == zeroOffset {
			offsetDate = prevOffsetDate
		}
		if offsetID == zeroOffset {
			offsetID = prevOffsetID
		}
		if offsetPeer == nil {
			offsetPeer = &tg.InputPeerEmpty{}
		}

		if len(batch.Dialogs) < dialogPageLimit {
			break
		}
	}

	return result, nil
}

// appendDialogs переводит страницу выдачи в плоский список Dialog. Папки и
// пиры без известного access_hash пропускаются.
func (b *dialogBatch) appendDialogs(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	titles := dialogTitles(batch)

	for _, dialogClass := range batch.Dialogs {
		dlg, ok := dialogClass.(*tg.Dialog)
		if !ok {
			continue
		}
		switch peer := dlg.Peer.(type) {
		case *tg.PeerUser:
			b.dialogs = append(b.dialogs, Dialog{
				Kind:   "user",
				ChatID: peer.UserID,
				Title:  titles[peer.UserID],
				Peer: &tg.InputPeerUser{
					UserID:     peer.UserID,
					AccessHash: userHashes[peer.UserID],
				},
			})
		case *tg.PeerChat:
			b.dialogs = append(b.dialogs, Dialog{
				Kind:   "chat",
				ChatID: peer.ChatID,
				Title:  titles[peer.ChatID],
				Peer:   &tg.InputPeerChat{ChatID: peer.ChatID},
			})
		case *tg.PeerChannel:
			hash, known := channelHashes[peer.ChannelID]
			if !known {
				continue
			}
			b.dialogs = append(b.dialogs, Dialog{
				Kind:   "channel",
				ChatID: peer.ChannelID,
				Title:  titles[peer.ChannelID],
				Peer: &tg.InputPeerChannel{
					ChannelID:  peer.ChannelID,
					AccessHash: hash,
				},
			})
		}
	}
}

// dialogTitles собирает отображаемые имена сущностей страницы по их ID.
func dialogTitles(batch *tg.MessagesDialogs) map[int64]string {
	titles := make(map[int64]string, len(batch.Users)+len(batch.Chats))
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			titles[user.ID] = displayTitle(user)
		}
	}
	for _, entity := range batch.Chats {
		switch item := entity.(type) {
		case *tg.Chat:
			titles[item.ID] = item.Title
		case *tg.Channel:
			titles[item.ID] = item.Title
		}
	}
	return titles
}

func normalizeDialogsResponse(resp tg.MessagesDialogsClass) (*tg.MessagesDialogs, error) {
	switch data := resp.(type) {
	case *tg.MessagesDialogs:
		return data, nil
	case *tg.MessagesDialogsSlice:
		return &tg.MessagesDialogs{
			Dialogs:  data.Dialogs,
			Messages: data.Messages,
			Chats:    data.Chats,
			Users:    data.Users,
		}, nil
	case *tg.MessagesDialogsNotModified:
		return nil, errDialogsNotModified
	default:
		return nil, errors.Errorf("unexpected dialogs response: %T", resp)
	}
}

func updateHashesFromBatch(batch *tg.MessagesDialogs, userHashes, channelHashes map[int64]int64) {
	for _, entity := range batch.Users {
		if user, ok := entity.(*tg.User); ok {
			userHashes[user.ID] = user.AccessHash
		}
	}
	for _, entity := range batch.Chats {
		if channel, ok := entity.(*tg.Channel); ok {
			channelHashes[channel.ID] = channel.AccessHash
		}
	}
}

func messageDate(messages []tg.MessageClass, id int) int {
	for _, msg := range messages {
		switch item := msg.(type) {
		case *tg.Message:
			if item.ID == id {
				return item.Date
			}
		case *tg.MessageService:
			if item.ID == id {
				return item.Date
			}
		}
	}
	return zeroOffset
}

func dialogPeerToInput(peer tg.PeerClass, userHashes, channelHashes map[int64]int64) tg.InputPeerClass {
	switch entity := peer.(type) {
	case *tg.PeerUser:
		return &tg.InputPeerUser{
			UserID:     entity.UserID,
			AccessHash: userHashes[entity.UserID],
		}
	case *tg.PeerChat:
		return &tg.InputPeerChat{ChatID: entity.ChatID}
	case *tg.PeerChannel:
		return &tg.InputPeerChannel{
			ChannelID:  entity.ChannelID,
			AccessHash: channelHashes[entity.ChannelID],
		}
	default:
		return &tg.InputPeerEmpty{}
	}
}

// chatRowsFromEntities переводит сущности страницы выдачи в строки чатов и
// контактов хранилища. Личный диалог порождает и контакт, и чат.
func chatRowsFromEntities(batch *dialogBatch) (contacts []store.Contact, chats []store.Chat) {
	seen := make(map[int64]bool, len(batch.users))
	for _, entity := range batch.users {
		user, ok := entity.(*tg.User)
		if !ok || seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		contacts = append(contacts, contactFromUser(user))
	}

	for _, d := range batch.dialogs {
		switch d.Kind {
		case "user":
			for _, entity := range batch.users {
				if user, ok := entity.(*tg.User); ok && user.ID == d.ChatID {
					chats = append(chats, chatFromUser(user))
					break
				}
			}
		case "chat":
			for _, entity := range batch.chats {
				if item, ok := entity.(*tg.Chat); ok && item.ID == d.ChatID {
					chats = append(chats, chatFromChat(item))
					break
				}
			}
		case "channel":
			for _, entity := range batch.chats {
				if item, ok := entity.(*tg.Channel); ok && item.ID == d.ChatID {
					chats = append(chats, chatFromChannel(item))
					break
				}
			}
		}
	}
	return contacts, chats
}
