// Command inspect dumps the message log of a badger store for debugging.
// It opens the database read-only, so it is safe to point at a live
// server's directory.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

type record struct {
	ID          string `json:"id"`
	CampaignID  int    `json:"campaign_id"`
	ProposalID  int    `json:"proposal_id"`
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
	Seq         uint64 `json:"seq"`
	Timestamp   int64  `json:"timestamp"`
	Read        bool   `json:"read"`
	Lang        string `json:"lang"`
	FileName    string `json:"file_name"`
	FileType    string `json:"file_type"`
}

func main() {
	dbPath := flag.String("db", "/tmp/negochat/badger", "Path to badger DB")
	// Default prefix skips the idx: and seq: keyspaces
	prefix := flag.String("prefix", "msg:", "Prefix to scan")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Conversation", "Seq", "Time", "Sender", "Read", "Lang", "Attachment", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	count := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			if strings.HasPrefix(string(item.Key()), "idx:") {
				continue
			}

			err := item.Value(func(v []byte) error {
				var r record
				if err := json.Unmarshal(v, &r); err != nil {
					// Keep scanning, one broken value should not hide the rest
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}

				attachment := ""
				if r.FileName != "" {
					attachment = fmt.Sprintf("%s (%s)", r.FileName, r.FileType)
				}
				readMark := color.Red.Sprint("unread")
				if r.Read {
					readMark = color.Green.Sprint("read")
				}

				body := r.Message
				if len(body) > 60 {
					body = body[:57] + "..."
				}

				table.Append([]string{
					fmt.Sprintf("%d/%d", r.CampaignID, r.ProposalID),
					fmt.Sprintf("%d", r.Seq),
					time.Unix(0, r.Timestamp).UTC().Format("2006-01-02 15:04:05"),
					r.SenderID,
					readMark,
					r.Lang,
					attachment,
					body,
				})
				count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	color.Cyan.Printf("\n%d messages\n", count)
}
