// Command demo wires a DocumentStore (a project), a CollectionStore
// (agents) and a ListQueryStore (tasks, paginated) over Postgres-backed
// fetch functions, a Redis invalidation bus, a WebSocket realtime hub, and
// a Prometheus /metrics endpoint, mirroring the teacher's main.go env-var
// wiring style (control_plane/main.go).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itskum47/fluxquery/invalidate"
	"github.com/itskum47/fluxquery/realtime"
	"github.com/itskum47/fluxquery/store"
)

type project struct {
	ID   string
	Name string
}

type agentPayload struct {
	ID string
}

type agent struct {
	ID     string
	Status string
}

type taskQuery struct {
	ProjectID string
}

type task struct {
	ID        string
	ProjectID string
	Title     string
}

func main() {
	ctx := context.Background()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/fluxquery?sslmode=disable"
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatalf("demo: connecting to postgres: %v", err)
	}
	defer pool.Close()

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	bus, err := invalidate.NewRedisBus(redisAddr, "", 0, "fluxquery-invalidate")
	if err != nil {
		log.Fatalf("demo: connecting to redis: %v", err)
	}
	defer bus.Close()

	projectCfg := store.DefaultConfig()
	projectCfg.DebugName = "project"
	projectDoc := store.NewDocument(store.DocumentConfig[project]{
		Config: projectCfg,
		FetchFn: func(ctx context.Context) (project, error) {
			row := pool.QueryRow(ctx, `SELECT id, name FROM projects WHERE id = $1`, os.Getenv("DEMO_PROJECT_ID"))
			var p project
			if err := row.Scan(&p.ID, &p.Name); err != nil {
				return project{}, fmt.Errorf("demo: loading project: %w", err)
			}
			return p, nil
		},
	})

	agentCfg := store.DefaultConfig()
	agentCfg.DebugName = "agent"
	agents := store.NewCollection(store.CollectionConfig[agent]{
		Config: agentCfg,
		FetchFn: func(ctx context.Context, payload interface{}) (agent, error) {
			p := payload.(agentPayload)
			row := pool.QueryRow(ctx, `SELECT id, status FROM agents WHERE id = $1`, p.ID)
			var a agent
			if err := row.Scan(&a.ID, &a.Status); err != nil {
				return agent{}, fmt.Errorf("demo: loading agent %s: %w", p.ID, err)
			}
			return a, nil
		},
	})

	taskCfg := store.DefaultConfig()
	taskCfg.DebugName = "task"
	tasks := store.NewListQuery(store.ListQueryConfig[taskQuery, task]{
		Config:           taskCfg,
		DefaultQuerySize: 20,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]store.ListItem[task], bool, error) {
			rows, err := pool.Query(ctx,
				`SELECT id, project_id, title FROM tasks WHERE project_id = $1 ORDER BY id LIMIT $2`,
				payload.ProjectID, size)
			if err != nil {
				return nil, false, fmt.Errorf("demo: loading tasks for project %s: %w", payload.ProjectID, err)
			}
			defer rows.Close()

			var items []store.ListItem[task]
			for rows.Next() {
				var t task
				if err := rows.Scan(&t.ID, &t.ProjectID, &t.Title); err != nil {
					return nil, false, err
				}
				items = append(items, store.ListItem[task]{ItemPayload: t.ID, Data: t})
			}
			hasMore := len(items) == size
			return items, hasMore, rows.Err()
		},
		SyncItemAndQuery: func(itemPayload interface{}, query taskQuery) bool {
			id, ok := itemPayload.(string)
			return ok && id != "" && query.ProjectID != ""
		},
	})

	hub := realtime.NewHub(func(msg realtime.InvalidateMessage) {
		tasks.InvalidateQueriesMatching(func(q taskQuery) bool { return q.ProjectID == msg.Key }, msg.Priority)
	})
	go hub.Run(ctx)

	go func() {
		if err := bus.Subscribe(ctx, func(msg invalidate.Message) {
			switch msg.Kind {
			case "project":
				projectDoc.InvalidateData(msg.Priority)
			case "agent":
				agents.InvalidateItem(agentPayload{ID: msg.Key}, msg.Priority)
			case "task-query":
				tasks.InvalidateQueriesMatching(func(q taskQuery) bool { return q.ProjectID == msg.Key }, msg.Priority)
			}
		}); err != nil {
			log.Printf("demo: redis bus subscribe stopped: %v", err)
		}
	}()

	upgrader := websocket.Upgrader{}
	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("demo: websocket upgrade failed: %v", err)
			return
		}
		hub.Register(r.Context(), conn)
	})

	// /project exercises store.Document's subscriber-hook accessor: a fresh
	// mounted flag per request mirrors a client reconnecting, so each hit
	// schedules a mount-time fetch the way a freshly-mounted useDocument
	// would.
	http.HandleFunc("/project", func(w http.ResponseWriter, r *http.Request) {
		projectMounted := new(bool)
		state := projectDoc.Snapshot(store.SnapshotOptions{}, projectMounted, nil)
		json.NewEncoder(w).Encode(state)
	})

	// /agent exercises store.Collection's useItem-equivalent accessor.
	agentMounted := new(bool)
	http.HandleFunc("/agent", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		state := agents.ItemSnapshot(agentPayload{ID: id}, store.SnapshotOptions{}, agentMounted, nil)
		json.NewEncoder(w).Encode(state)
	})

	// /agents exercises store.Collection's useMultipleItems-equivalent
	// accessor: agentsSub is one subscriber handle shared across requests so
	// its ignoreItemsInRefetchOnMount set behaves like a single long-lived
	// caller watching a changing list of agent ids.
	agentsSub := store.NewMultiItemSubscriber()
	http.HandleFunc("/agents", func(w http.ResponseWriter, r *http.Request) {
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		queries := make([]store.MultiItemQuery, 0, len(ids))
		for _, id := range ids {
			if id == "" {
				continue
			}
			queries = append(queries, store.MultiItemQuery{Payload: agentPayload{ID: id}, Metadata: id})
		}
		results := agents.MultiItemSnapshot(queries, store.SnapshotOptions{}, agentsSub, nil)
		json.NewEncoder(w).Encode(results)
	})

	// /tasks exercises store.ListQuery's useListQuery-equivalent accessor.
	tasksMounted := new(bool)
	http.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("projectId")
		result := tasks.ListQuerySnapshot(taskQuery{ProjectID: projectID}, store.QuerySnapshotOptions[task]{}, tasksMounted, nil)
		json.NewEncoder(w).Encode(result)
	})

	http.Handle("/metrics", promhttp.Handler())

	log.Println("fluxquery demo listening on :8090")
	log.Fatal(http.ListenAndServe(":8090", nil))
}
