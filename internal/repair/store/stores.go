package store

import (
	"fmt"
	"path/filepath"
)

const (
	requestsFile       = "requests.json"
	tasksFile          = "tasks.json"
	usersFile          = "users.json"
	serviceCentersFile = "service_centers.json"
)

// Stores bundles every entity store of the repair module.
type Stores struct {
	Requests       *FileStore[Request]
	Tasks          *FileStore[DeliveryTask]
	Users          *FileStore[User]
	ServiceCenters *FileStore[ServiceCenter]
}

// OpenStores opens (or creates) all stores under dir.
func OpenStores(dir string) (*Stores, error) {
	requests, err := Open[Request](filepath.Join(dir, requestsFile))
	if err != nil {
		return nil, fmt.Errorf("open requests: %w", err)
	}
	tasks, err := Open[DeliveryTask](filepath.Join(dir, tasksFile))
	if err != nil {
		return nil, fmt.Errorf("open tasks: %w", err)
	}
	users, err := Open[User](filepath.Join(dir, usersFile))
	if err != nil {
		return nil, fmt.Errorf("open users: %w", err)
	}
	centers, err := Open[ServiceCenter](filepath.Join(dir, serviceCentersFile))
	if err != nil {
		return nil, fmt.Errorf("open service centers: %w", err)
	}
	return &Stores{Requests: requests, Tasks: tasks, Users: users, ServiceCenters: centers}, nil
}

// Files lists the backing files of all stores.
func (s *Stores) Files() []string {
	return []string{s.Requests.Path(), s.Tasks.Path(), s.Users.Path(), s.ServiceCenters.Path()}
}

// SeedServiceCenters inserts centers whose ids are not yet known. Existing
// records are left untouched so edits made at runtime survive restarts.
func (s *Stores) SeedServiceCenters(centers []ServiceCenter) error {
	return s.ServiceCenters.Update(func(tx *Tx[ServiceCenter]) error {
		for _, sc := range centers {
			if sc.ID == 0 {
				sc.ID = tx.NextID()
			} else if _, err := tx.Get(sc.ID); err == nil {
				continue
			}
			if sc.ID >= tx.nextID {
				tx.nextID = sc.ID + 1
			}
			tx.Put(sc.ID, sc)
		}
		return nil
	})
}

// TasksForRequest returns every task created for the request.
func (s *Stores) TasksForRequest(requestID int64) []DeliveryTask {
	return s.Tasks.List(func(t DeliveryTask) bool { return t.RequestID == requestID })
}

// OpenTask returns the unfinished task of the given leg, if any.
func (s *Stores) OpenTask(requestID int64, typ DeliveryType) (DeliveryTask, bool) {
	for _, t := range s.TasksForRequest(requestID) {
		if t.Type == typ && t.Status.Open() {
			return t, true
		}
	}
	return DeliveryTask{}, false
}
