// Command demo runs a small HTTP server exposing a handful of named
// Markdown CRDT replicas, so a browser frontend can edit, fork, and sync
// them the way the frontend in the teacher's own demo drives RList sites.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"mdcrdt/crdt"
	"mdcrdt/doc"
	syncpkg "mdcrdt/sync"
)

var (
	port          = flag.Int("port", 8009, "port to run server")
	debug         = flag.Bool("debug", false, "whether to dump debug information. Default debug file is log_{{datetime}}.jsonl")
	debugFilename = flag.String("debug_file", "", "file to dump debug information in JSONL format. Implies --debug")

	staticDir = flag.String("static_dir", "", "directory with static files")
	debugDir  = flag.String("debug_dir", "", "directory with static debug files")
)

// -----

type debugMsgType int

const (
	writeDebug debugMsgType = iota
	syncDebug
)

type debugMessage struct {
	msgType debugMsgType
	payload interface{}
}

// -----

type server struct {
	sync.Mutex

	log       *zap.SugaredLogger
	debugMsgs chan<- debugMessage

	replicas    map[string]*syncpkg.State
	frontendIDs []string

	numEditRequests int
	numForkRequests int
	numSyncRequests int
}

func newServer(log *zap.SugaredLogger, debugMsgs chan<- debugMessage) *server {
	return &server{
		log:       log,
		debugMsgs: debugMsgs,
		replicas:  make(map[string]*syncpkg.State),
	}
}

// -----

func main() {
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	debugMsgs := runDebug(log)
	s := newServer(log, debugMsgs)

	mux := http.NewServeMux()
	if *staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(*staticDir)))
	}
	if *debugDir != "" {
		mux.Handle("/debug/", http.StripPrefix("/debug", http.FileServer(http.Dir(*debugDir))))
	}
	mux.Handle("/edit", editHTTPHandler{s})
	mux.Handle("/fork", forkHTTPHandler{s})
	mux.Handle("/sync", syncHTTPHandler{s})

	addr := fmt.Sprintf(":%d", *port)
	log.Infof("serving in %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

// -----

// editRequest replaces the whole text of one block with newText, lowered
// to the minimal InsertText/DeleteRange ops via doc.ReplaceText so
// concurrent edits elsewhere in the block survive the merge.
type editRequest struct {
	ReplicaID string `json:"id"`
	BlockID   string `json:"block"`
	Text      string `json:"text"`
}

type editHTTPHandler struct{ s *server }

func (h editHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var editReq editRequest
	if err := json.NewDecoder(req.Body).Decode(&editReq); err != nil {
		h.s.log.Errorf("error parsing body in /edit: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.s.handleEdit(w, &editReq)
}

func (s *server) handleEdit(w http.ResponseWriter, req *editRequest) {
	s.Lock()
	defer s.Unlock()
	s.writeDebug(map[string]interface{}{"Type": "edit", "Request": req})

	st, ok := s.replicas[req.ReplicaID]
	if !ok {
		st = syncpkg.New(doc.New())
		s.replicas[req.ReplicaID] = st
		s.frontendIDs = append(s.frontendIDs, req.ReplicaID)
	}

	blockID, err := parseOpID(req.BlockID)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "bad block id %q: %v", req.BlockID, err)
		return
	}
	ops, err := st.Doc.ReplaceText(blockID, req.Text)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "replace text: %v", err)
		return
	}
	for _, op := range ops {
		st.ApplyOp(op)
	}
	s.log.Infow("edit", "replica", req.ReplicaID, "ops", len(ops))

	w.Header().Set("Content-Type", "text/markdown")
	io.WriteString(w, st.Doc.Serialize(doc.Structural))

	s.syncDebug()
	s.numEditRequests++
}

// -----

// forkRequest creates a brand-new named replica, RemoteID, seeded from a
// full copy of LocalID's current document — the Markdown equivalent of
// CausalTree.Fork.
type forkRequest struct {
	LocalID  string `json:"local"`
	RemoteID string `json:"remote"`
}

type forkHTTPHandler struct{ s *server }

func (h forkHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var forkReq forkRequest
	if err := json.NewDecoder(req.Body).Decode(&forkReq); err != nil {
		h.s.log.Errorf("error parsing body in /fork: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.s.handleFork(w, &forkReq)
}

func (s *server) handleFork(w http.ResponseWriter, req *forkRequest) {
	s.Lock()
	defer s.Unlock()
	s.writeDebug(map[string]interface{}{"Type": "fork", "Request": req})

	local, ok := s.replicas[req.LocalID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "unknown local replica id %q", req.LocalID)
		return
	}
	if _, ok := s.replicas[req.RemoteID]; ok {
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintf(w, "replica id already exists: %q", req.RemoteID)
		return
	}

	forked := doc.Parse(local.Doc.Serialize(doc.Exact))
	s.replicas[req.RemoteID] = syncpkg.New(forked)
	s.frontendIDs = append(s.frontendIDs, req.RemoteID)
	s.log.Infow("fork", "from", req.LocalID, "to", req.RemoteID)

	s.numForkRequests++
	s.syncDebug()
}

// -----

// syncRequest merges every replica in RemoteIDs into LocalID by exchanging
// change messages keyed by each side's state vector.
type syncRequest struct {
	LocalID   string   `json:"id"`
	RemoteIDs []string `json:"mergeIds"`
}

type syncHTTPHandler struct{ s *server }

func (h syncHTTPHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var syncReq syncRequest
	if err := json.NewDecoder(req.Body).Decode(&syncReq); err != nil {
		h.s.log.Errorf("error parsing body in /sync: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	h.s.handleSync(w, &syncReq)
}

func (s *server) handleSync(w http.ResponseWriter, req *syncRequest) {
	s.Lock()
	defer s.Unlock()
	s.writeDebug(map[string]interface{}{"Type": "sync", "Request": req})

	local, ok := s.replicas[req.LocalID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, "unknown local replica id %q", req.LocalID)
		return
	}
	for _, remoteID := range req.RemoteIDs {
		remote, ok := s.replicas[remoteID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, "unknown remote replica id: %q", remoteID)
			return
		}
		msg := remote.EncodeChangesSince(local.Doc.StateVector)
		result := local.ApplyChanges(msg)
		s.log.Infow("sync", "local", req.LocalID, "remote", remoteID,
			"applied", result.Applied, "buffered", result.Buffered, "conflicts", len(result.Conflicts))
	}

	w.Header().Set("Content-Type", "text/markdown")
	io.WriteString(w, local.Doc.Serialize(doc.Structural))

	s.numSyncRequests++
	s.syncDebug()
}

// -----

func parseOpID(s string) (crdt.OpId, error) {
	var counter uint64
	var peer uint64
	if _, err := fmt.Sscanf(s, "%d@%d", &peer, &counter); err != nil {
		return crdt.OpId{}, err
	}
	return crdt.OpId{Counter: counter, Peer: crdt.PeerID(peer)}, nil
}

func (s *server) isDebug() bool {
	return s.debugMsgs != nil
}

func (s *server) writeDebug(x interface{}) {
	if s.isDebug() {
		s.debugMsgs <- debugMessage{msgType: writeDebug, payload: x}
	}
}

func (s *server) syncDebug() {
	if s.isDebug() {
		s.debugMsgs <- debugMessage{msgType: syncDebug}
	}
}

func runDebug(log *zap.SugaredLogger) chan<- debugMessage {
	f := createDebug(log)
	if f == nil {
		return nil
	}
	ch := make(chan debugMessage, 10)
	go func() {
		for msg := range ch {
			switch msg.msgType {
			case writeDebug:
				if bs, err := json.Marshal(msg.payload); err != nil {
					log.Errorf("error while writing to debug file: %v", err)
				} else {
					f.Write(bs)
					f.WriteString("\n")
				}
			case syncDebug:
				f.Sync()
			}
		}
		f.Close()
	}()
	return ch
}

func createDebug(log *zap.SugaredLogger) *os.File {
	if !*debug && *debugFilename == "" {
		return nil
	}
	if *debugFilename == "" {
		datetime := time.Now().Format("2006-01-02T15:04:05")
		*debugFilename = fmt.Sprintf("log_%s.jsonl", datetime)
	}
	debugFile, err := os.Create(*debugFilename)
	if err != nil {
		log.Errorf("error opening debug file: %v", err)
		return nil
	}
	return debugFile
}
