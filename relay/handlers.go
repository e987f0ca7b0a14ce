package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/tarancss/prvd/lib/storage"
	"github.com/tarancss/prvd/lib/types"
)

// Welcome is the body replied by the home page.
const Welcome = "Hello, this is your message bus relay!"

// ErrBadWrap is returned to requests with a wrap query that is not a boolean.
var ErrBadWrap = errors.New("invalid wrap: has to be a boolean")

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  interface{} `json:"body"`
	Error string      `json:"error,omitempty"`
}

// TopologyView is the topology replied to clients. Unresolved slots are null.
type TopologyView struct {
	Application *types.ID `json:"application"`
	Contract    *types.ID `json:"contract"`
	Address     string    `json:"address,omitempty"` // registry contract address
	Connector   *types.ID `json:"connector"`
}

// Router returns the API definition.
func (rl *Relay) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(rl.logRequests)
	r.HandleFunc("/", rl.homeHandler).Methods(http.MethodGet)
	r.HandleFunc("/topology", rl.topologyHandler).Methods(http.MethodGet)          // get resolved topology
	r.HandleFunc("/publish/{subject}", rl.publishHandler).Methods(http.MethodPost) // publish the request body
	return r
}

// logRequests logs every request once served.
func (rl *Relay) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(rw, r)
		rl.log.Debug().Str("remote", r.RemoteAddr).Str("method", r.Method).Str("uri", r.RequestURI).
			Dur("took", time.Since(start)).Msg("httpreq")
	})
}

// reply writes res with the given status.
func reply(rw http.ResponseWriter, status int, res Response) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (rl *Relay) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, http.StatusOK, Response{Body: Welcome})
}

// topologyHandler replies the topology resolved by the bus.
func (rl *Relay) topologyHandler(rw http.ResponseWriter, r *http.Request) {
	t := rl.bus.Topology()

	var v TopologyView
	if t.Application != nil {
		v.Application = &t.Application.ID
	}
	if t.Contract != nil {
		v.Contract = &t.Contract.ID
		v.Address = t.Contract.Address
	}
	if t.Connector != nil {
		v.Connector = &t.Connector.ID
	}
	reply(rw, http.StatusOK, Response{Body: v})
}

// publishHandler publishes the request body under the subject in the uri. The optional filename and wrap queries
// name the stored file and wrap it in a directory. It replies 202 and the outcome when the registry contract accepted
// the publish, 502 with the outcome when it did not or when the upload failed, and 503 when the bus is not ready.
func (rl *Relay) publishHandler(rw http.ResponseWriter, r *http.Request) {
	subject := mux.Vars(r)["subject"]

	q := r.URL.Query()
	opts := storage.AddOptions{Filename: q.Get("filename")}
	if w := q.Get("wrap"); w != "" {
		var err error
		if opts.Wrap, err = strconv.ParseBool(w); err != nil {
			reply(rw, http.StatusBadRequest, Response{Error: ErrBadWrap.Error()})
			return
		}
	}

	out, err := rl.bus.Publish(r.Context(), subject, r.Body, opts)
	switch {
	case errors.Is(err, types.ErrRegistryUnavailable), errors.Is(err, types.ErrStorageUnavailable):
		reply(rw, http.StatusServiceUnavailable, Response{Error: err.Error()})
	case err != nil:
		rl.log.Error().Err(err).Str("subject", subject).Msg("publish failed")
		reply(rw, http.StatusBadGateway, Response{Error: err.Error()})
	case !out.Accepted:
		res := Response{Body: out, Error: types.ErrPublishNotAccepted.Error()}
		if out.Err != nil {
			res.Error = out.Err.Error()
		}
		reply(rw, http.StatusBadGateway, res)
	default:
		reply(rw, http.StatusAccepted, Response{Body: out})
	}
}
