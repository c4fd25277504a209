package wire

import (
	"io"

	"github.com/parley-im/parley/server/store/types"
)

// Entity record encodings. Field order is part of the wire contract.

// WriteUser writes id, name, creation time, watermark.
func WriteUser(w io.Writer, u *types.User) error {
	if err := WriteUid(w, u.Id); err != nil {
		return err
	}
	if err := WriteString(w, u.Name); err != nil {
		return err
	}
	if err := WriteTime(w, u.CreatedAt); err != nil {
		return err
	}
	return WriteTime(w, u.LastStatusUpdate)
}

func ReadUser(r io.Reader) (*types.User, error) {
	var u types.User
	var err error
	if u.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if u.Name, err = ReadString(r); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = ReadTime(r); err != nil {
		return nil, err
	}
	if u.LastStatusUpdate, err = ReadTime(r); err != nil {
		return nil, err
	}
	return &u, nil
}

// WriteConversationHeader writes id, owner, title, creation time.
func WriteConversationHeader(w io.Writer, c *types.Conversation) error {
	if err := WriteUid(w, c.Id); err != nil {
		return err
	}
	if err := WriteUid(w, c.Owner); err != nil {
		return err
	}
	if err := WriteString(w, c.Title); err != nil {
		return err
	}
	return WriteTime(w, c.CreatedAt)
}

func ReadConversationHeader(r io.Reader) (*types.Conversation, error) {
	var c types.Conversation
	var err error
	if c.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if c.Owner, err = ReadUid(r); err != nil {
		return nil, err
	}
	if c.Title, err = ReadString(r); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = ReadTime(r); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteConversationPayload writes id and the chain endpoints, ZeroUid
// standing for NULL.
func WriteConversationPayload(w io.Writer, c *types.Conversation) error {
	if err := WriteUid(w, c.Id); err != nil {
		return err
	}
	if err := WriteUid(w, c.FirstMessage); err != nil {
		return err
	}
	return WriteUid(w, c.LastMessage)
}

func ReadConversationPayload(r io.Reader) (*types.Conversation, error) {
	var c types.Conversation
	var err error
	if c.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if c.FirstMessage, err = ReadUid(r); err != nil {
		return nil, err
	}
	if c.LastMessage, err = ReadUid(r); err != nil {
		return nil, err
	}
	return &c, nil
}

// WriteMessage writes id, author, creation time, body, next pointer.
func WriteMessage(w io.Writer, m *types.Message) error {
	if err := WriteUid(w, m.Id); err != nil {
		return err
	}
	if err := WriteUid(w, m.Author); err != nil {
		return err
	}
	if err := WriteTime(w, m.CreatedAt); err != nil {
		return err
	}
	if err := WriteString(w, m.Body); err != nil {
		return err
	}
	return WriteUid(w, m.Next)
}

func ReadMessage(r io.Reader) (*types.Message, error) {
	var m types.Message
	var err error
	if m.Id, err = ReadUid(r); err != nil {
		return nil, err
	}
	if m.Author, err = ReadUid(r); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = ReadTime(r); err != nil {
		return nil, err
	}
	if m.Body, err = ReadString(r); err != nil {
		return nil, err
	}
	if m.Next, err = ReadUid(r); err != nil {
		return nil, err
	}
	return &m, nil
}

// WriteStatusUpdate writes the taken-at time, the per-followed-user
// activity reports, then the followed-conversation unseen counts.
func WriteStatusUpdate(w io.Writer, upd *types.StatusUpdate) error {
	if err := WriteUid(w, upd.User); err != nil {
		return err
	}
	if err := WriteTime(w, upd.TakenAt); err != nil {
		return err
	}

	if err := WriteInt32(w, int32(len(upd.Followed))); err != nil {
		return err
	}
	for _, f := range upd.Followed {
		if err := WriteUid(w, f.User); err != nil {
			return err
		}
		if err := WriteString(w, f.Name); err != nil {
			return err
		}
		if err := WriteInt32(w, int32(len(f.Activity))); err != nil {
			return err
		}
		for _, a := range f.Activity {
			if err := WriteUid(w, a.Conversation); err != nil {
				return err
			}
			if err := WriteString(w, a.Title); err != nil {
				return err
			}
			if err := WriteBool(w, a.Created); err != nil {
				return err
			}
			if err := WriteTime(w, a.TouchedAt); err != nil {
				return err
			}
		}
	}

	if err := WriteInt32(w, int32(len(upd.Conversations))); err != nil {
		return err
	}
	for _, c := range upd.Conversations {
		if err := WriteUid(w, c.Conversation); err != nil {
			return err
		}
		if err := WriteString(w, c.Title); err != nil {
			return err
		}
		if err := WriteInt32(w, int32(c.Unseen)); err != nil {
			return err
		}
	}
	return nil
}

func ReadStatusUpdate(r io.Reader) (*types.StatusUpdate, error) {
	var upd types.StatusUpdate
	var err error
	if upd.User, err = ReadUid(r); err != nil {
		return nil, err
	}
	if upd.TakenAt, err = ReadTime(r); err != nil {
		return nil, err
	}

	nf, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if nf < 0 || nf > maxCollectionLen {
		return nil, ErrTooLong
	}
	for i := int32(0); i < nf; i++ {
		var f types.FollowedUserActivity
		if f.User, err = ReadUid(r); err != nil {
			return nil, err
		}
		if f.Name, err = ReadString(r); err != nil {
			return nil, err
		}
		na, err := ReadInt32(r)
		if err != nil {
			return nil, err
		}
		if na < 0 || na > maxCollectionLen {
			return nil, ErrTooLong
		}
		for j := int32(0); j < na; j++ {
			var a types.ConversationActivity
			if a.Conversation, err = ReadUid(r); err != nil {
				return nil, err
			}
			if a.Title, err = ReadString(r); err != nil {
				return nil, err
			}
			if a.Created, err = ReadBool(r); err != nil {
				return nil, err
			}
			if a.TouchedAt, err = ReadTime(r); err != nil {
				return nil, err
			}
			f.Activity = append(f.Activity, a)
		}
		upd.Followed = append(upd.Followed, f)
	}

	nc, err := ReadInt32(r)
	if err != nil {
		return nil, err
	}
	if nc < 0 || nc > maxCollectionLen {
		return nil, ErrTooLong
	}
	for i := int32(0); i < nc; i++ {
		var c types.FollowedConversation
		if c.Conversation, err = ReadUid(r); err != nil {
			return nil, err
		}
		if c.Title, err = ReadString(r); err != nil {
			return nil, err
		}
		unseen, err := ReadInt32(r)
		if err != nil {
			return nil, err
		}
		c.Unseen = int(unseen)
		upd.Conversations = append(upd.Conversations, c)
	}
	return &upd, nil
}
