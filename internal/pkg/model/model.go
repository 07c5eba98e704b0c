// Package model defines the documents stored in the Elasticsearch-backed
// session index and the job documents (hunts, cron queries) that the
// engines in this repository drive through their lifecycle.
//
// Every type embeds an Extra map so a read-modify-write round trip never
// truncates fields this process does not know about yet.
package model

import "time"

// Extra carries JSON fields the application does not model explicitly.
// Populated on unmarshal, merged back in on marshal.
type Extra map[string]any

// FileID identifies one PCAP record referenced by a session: a file
// number (resolved against the owning node's file catalog) and the
// byte offset of the record inside that file.
type FileID struct {
	FileNum int64
	Offset  int64
}

// Session is the SPI (session protocol information) document. Only the
// fields this repository reads or mutates are modeled; everything else
// round-trips through Extra.
type Session struct {
	ID          string     `json:"id"`
	Node        string     `json:"node"`
	FirstPacket int64      `json:"firstPacket"`
	LastPacket  int64      `json:"lastPacket"`
	FileID      []int64    `json:"fileId,omitempty"`
	PacketPos   []int64    `json:"packetPos,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	HuntID      []string   `json:"huntId,omitempty"`
	HuntName    []string   `json:"huntName,omitempty"`
	SrcIP       string     `json:"srcIp,omitempty"`
	DstIP       string     `json:"dstIp,omitempty"`
	SrcPort     int        `json:"srcPort,omitempty"`
	DstPort     int        `json:"dstPort,omitempty"`
	Scrubby     string     `json:"scrubby,omitempty"`
	ScrubAt     int64      `json:"scrubat,omitempty"`
	Extra       Extra      `json:"-"`
}

// Fingerprint returns the (srcIP,dstIP,srcPort,dstPort) tuple used by
// packetSearch to classify a packet as client-to-server or
// server-to-client.
func (s Session) Fingerprint() (srcIP, dstIP string, srcPort, dstPort int) {
	return s.SrcIP, s.DstIP, s.SrcPort, s.DstPort
}

// FileNumbers decodes PacketPos into ordered (fileNum, offset) pairs.
// A leading negative entry switches the file number used by subsequent
// positive offsets, per spec §4.2.
func (s Session) FileNumbers() []FileID {
	out := make([]FileID, 0, len(s.PacketPos))
	curFile := int64(0)
	if len(s.FileID) > 0 {
		curFile = s.FileID[0]
	}
	for _, pos := range s.PacketPos {
		if pos < 0 {
			curFile = -pos
			continue
		}
		out = append(out, FileID{FileNum: curFile, Offset: pos})
	}
	return out
}

// PcapFile is the per-node packet capture file catalog row.
type PcapFile struct {
	Node     string `json:"node"`
	Num      int64  `json:"num"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Locked   bool   `json:"locked"`
	First    int64  `json:"first"`
	Encoding string `json:"encoding,omitempty"`
}

// HuntStatus is the hunt lifecycle state.
type HuntStatus string

const (
	HuntQueued   HuntStatus = "queued"
	HuntRunning  HuntStatus = "running"
	HuntPaused   HuntStatus = "paused"
	HuntFinished HuntStatus = "finished"
)

// HuntType selects raw wire-order or stream-reassembled packet search.
type HuntType string

const (
	HuntTypeRaw         HuntType = "raw"
	HuntTypeReassembled HuntType = "reassembled"
)

// SearchType selects the payload match predicate packetSearch applies.
type SearchType string

const (
	SearchASCII     SearchType = "ascii"
	SearchASCIICase SearchType = "asciicase"
	SearchHex       SearchType = "hex"
	SearchRegex     SearchType = "regex"
	SearchHexRegex  SearchType = "hexregex"
	SearchWildcard  SearchType = "wildcard"
)

// HuntQuery is the embedded query descriptor of a Hunt.
type HuntQuery struct {
	Expression string `json:"expression"`
	StartTime  int64  `json:"startTime"`
	StopTime   int64  `json:"stopTime"`
	View       string `json:"view,omitempty"`
}

// Hunt is the packet-hunt job document (spec §3, §4.3).
type Hunt struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	UserID string     `json:"userId"`
	Users  []string   `json:"users,omitempty"`
	Status HuntStatus `json:"status"`

	Query HuntQuery `json:"query"`

	Src        bool       `json:"src"`
	Dst        bool       `json:"dst"`
	Type       HuntType   `json:"type"`
	SearchType SearchType `json:"searchType"`
	Search     string     `json:"search"`
	Size       int        `json:"size"`
	Notifier   string     `json:"notifier,omitempty"`

	TotalSessions   int64 `json:"totalSessions"`
	SearchedSessions int64 `json:"searchedSessions"`
	MatchedSessions  int64 `json:"matchedSessions"`

	LastPacketTime int64    `json:"lastPacketTime"`
	FailedSessionIDs []string `json:"failedSessionIds,omitempty"`
	Errors         []string `json:"errors,omitempty"`
	Unrunnable     bool     `json:"unrunnable"`

	Started     int64 `json:"started,omitempty"`
	LastUpdated int64 `json:"lastUpdated,omitempty"`
	Created     int64 `json:"created"`

	Extra Extra `json:"-"`
}

// Redacted returns the view a non-authorized lister sees:
// {search, searchType, id, userId} are blanked per spec §4.3 "Access
// control for hunts".
func (h Hunt) Redacted() Hunt {
	r := h
	r.Search = ""
	r.SearchType = ""
	r.Query = HuntQuery{}
	r.ID = ""
	r.UserID = ""
	return r
}

// CanRead reports whether userID may see the unredacted hunt.
func (h Hunt) CanRead(userID string, isAdmin bool) bool {
	if isAdmin || userID == h.UserID {
		return true
	}
	for _, u := range h.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// CronAction selects what a CronQuery does with each matched session.
type CronAction string

const (
	CronActionTag CronAction = "tag"
)

// ForwardCluster returns the target cluster name for a "forward:<cluster>"
// action, and ok=false if action is not a forward action.
func ParseForwardAction(action string) (cluster string, ok bool) {
	const prefix = "forward:"
	if len(action) > len(prefix) && action[:len(prefix)] == prefix {
		return action[len(prefix):], true
	}
	return "", false
}

// CronQuery is the repeating, time-windowed query document (spec §3, §4.4).
type CronQuery struct {
	ID      string `json:"id"`
	Creator string `json:"creator"`
	Enabled bool   `json:"enabled"`
	Name    string `json:"name"`
	Query   string `json:"query"`
	Tags    string `json:"tags,omitempty"`
	Action  string `json:"action"`

	Notifier string `json:"notifier,omitempty"`

	LPValue int64 `json:"lpValue"`
	LastRun int64 `json:"lastRun,omitempty"`
	Count   int64 `json:"count"`

	LastNotified      int64 `json:"lastNotified,omitempty"`
	LastNotifiedCount int64 `json:"lastNotifiedCount,omitempty"`

	Extra Extra `json:"-"`
}

// HistoryLog is the append-only per-request audit row (spec §3).
type HistoryLog struct {
	Timestamp       time.Time `json:"timestamp"`
	UserID          string    `json:"userId"`
	API             string    `json:"api"`
	Query           string    `json:"query,omitempty"`
	Body            string    `json:"body,omitempty"`
	QueryTime       int64     `json:"queryTime,omitempty"`
	View            string    `json:"view,omitempty"`
	Range           int64     `json:"range,omitempty"`
	RecordsReturned int64     `json:"recordsReturned,omitempty"`
	RecordsFiltered int64     `json:"recordsFiltered,omitempty"`
	RecordsTotal    int64     `json:"recordsTotal,omitempty"`
}

// User is the external CRUD document; this repository only reads the
// fields needed to authenticate, authorize, and compile forced
// expressions (spec §3, §4.1, §4.3).
type User struct {
	UserID          string         `json:"userId"`
	Enabled         bool           `json:"enabled"`
	CreateEnabled   bool           `json:"createEnabled"`
	RemoveEnabled   bool           `json:"removeEnabled"`
	PacketSearch    bool           `json:"packetSearch"`
	HideStats       bool           `json:"hideStats"`
	HideFiles       bool           `json:"hideFiles"`
	DisablePcapDownload bool       `json:"disablePcapDownload"`
	Admin           bool           `json:"admin"`
	PassStore       string         `json:"passStore,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
	Views           map[string]any `json:"views,omitempty"`
	Expression      string         `json:"expression,omitempty"`
	TimeLimit       int64          `json:"timeLimit,omitempty"`
}

// RemoteCluster is a forward-action target loaded from configuration
// (spec §6.5 `remote-clusters`).
type RemoteCluster struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	ServerSecret   string `json:"serverSecret,omitempty"`
	PasswordSecret string `json:"passwordSecret,omitempty"`
}
