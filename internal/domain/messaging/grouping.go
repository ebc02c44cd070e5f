package messaging

import "time"

// GroupWindow is the maximum gap between consecutive messages of one cluster.
const GroupWindow = 60 * time.Second

// Cluster is a run of consecutive messages from one sender, as inclusive indexes into the input.
type Cluster struct {
	SenderID string `json:"sender_id"`
	First    int    `json:"first"`
	Last     int    `json:"last"`
}

func (c Cluster) Len() int {
	return c.Last - c.First + 1
}

// GroupBySender clusters a chronologically ordered list. A message joins the current
// cluster when it has the same sender and arrived within window of the previous one.
func GroupBySender(msgs []Message, window time.Duration) []Cluster {
	if len(msgs) == 0 {
		return nil
	}
	clusters := []Cluster{{SenderID: msgs[0].SenderID, First: 0, Last: 0}}
	for i := 1; i < len(msgs); i++ {
		cur := &clusters[len(clusters)-1]
		prev := msgs[i-1]
		gap := msgs[i].CreatedAt.Sub(prev.CreatedAt)
		if msgs[i].SenderID == cur.SenderID && gap >= 0 && gap <= window {
			cur.Last = i
			continue
		}
		clusters = append(clusters, Cluster{SenderID: msgs[i].SenderID, First: i, Last: i})
	}
	return clusters
}
