package imap

import (
	"fmt"
	"sort"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// newUIDs returns, oldest first, at most limit of the newest UIDs above afterUID in the
// selected mailbox.
func newUIDs(c *client.Client, afterUID uint32, limit int) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	if afterUID > 0 {
		criteria.Uid = new(imap.SeqSet)
		criteria.Uid.AddRange(afterUID+1, 0)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	// "n:*" always matches the highest UID, even when it is below n.
	filtered := uids[:0]
	for _, uid := range uids {
		if uid > afterUID {
			filtered = append(filtered, uid)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i] < filtered[j] })

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// fetchFull fetches envelope, flags and the full body of the given UIDs.
func fetchFull(c *client.Client, uids []uint32) ([]*imap.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	if len(uids) == 0 {
		return []*imap.Message{}, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	items := []imap.FetchItem{
		imap.FetchUid,
		imap.FetchEnvelope,
		imap.FetchFlags,
		bodySection.FetchItem(),
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var result []*imap.Message
	for msg := range messages {
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Uid < result[j].Uid })
	return result, nil
}
