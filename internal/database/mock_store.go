// file: internal/database/mock_store.go
// version: 2.0.0
// guid: b2c3d4e5-f6a7-8b9c-0d1e-2f3a4b5c6d7e

package database

// MockStore is a simple mock implementation for testing services.
// Unset funcs behave like an empty catalog.
type MockStore struct {
	CloseFunc func() error

	// Track methods
	GetAllTracksFunc       func() ([]Track, error)
	GetTrackByIDFunc       func(id int64) (*Track, error)
	GetTrackByFilePathFunc func(path string) (*Track, error)
	CreateTrackFunc        func(track *Track) (*Track, error)
	DeleteTrackFunc        func(id int64) error
	CountTracksFunc        func() (int, error)

	// Fingerprint methods
	UpsertFingerprintFunc  func(rec *FingerprintRecord) error
	GetFingerprintFunc     func(trackID int64) (*FingerprintRecord, error)
	GetAllFingerprintsFunc func() (map[int64]FingerprintRecord, error)
	DeleteFingerprintFunc  func(trackID int64) error
	CountFingerprintsFunc  func() (int, error)
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockStore) GetAllTracks() ([]Track, error) {
	if m.GetAllTracksFunc != nil {
		return m.GetAllTracksFunc()
	}
	return nil, nil
}

func (m *MockStore) GetTrackByID(id int64) (*Track, error) {
	if m.GetTrackByIDFunc != nil {
		return m.GetTrackByIDFunc(id)
	}
	return nil, nil
}

func (m *MockStore) GetTrackByFilePath(path string) (*Track, error) {
	if m.GetTrackByFilePathFunc != nil {
		return m.GetTrackByFilePathFunc(path)
	}
	return nil, nil
}

func (m *MockStore) CreateTrack(track *Track) (*Track, error) {
	if m.CreateTrackFunc != nil {
		return m.CreateTrackFunc(track)
	}
	return track, nil
}

func (m *MockStore) DeleteTrack(id int64) error {
	if m.DeleteTrackFunc != nil {
		return m.DeleteTrackFunc(id)
	}
	return nil
}

func (m *MockStore) CountTracks() (int, error) {
	if m.CountTracksFunc != nil {
		return m.CountTracksFunc()
	}
	return 0, nil
}

func (m *MockStore) UpsertFingerprint(rec *FingerprintRecord) error {
	if m.UpsertFingerprintFunc != nil {
		return m.UpsertFingerprintFunc(rec)
	}
	return nil
}

func (m *MockStore) GetFingerprint(trackID int64) (*FingerprintRecord, error) {
	if m.GetFingerprintFunc != nil {
		return m.GetFingerprintFunc(trackID)
	}
	return nil, nil
}

func (m *MockStore) GetAllFingerprints() (map[int64]FingerprintRecord, error) {
	if m.GetAllFingerprintsFunc != nil {
		return m.GetAllFingerprintsFunc()
	}
	return map[int64]FingerprintRecord{}, nil
}

func (m *MockStore) DeleteFingerprint(trackID int64) error {
	if m.DeleteFingerprintFunc != nil {
		return m.DeleteFingerprintFunc(trackID)
	}
	return nil
}

func (m *MockStore) CountFingerprints() (int, error) {
	if m.CountFingerprintsFunc != nil {
		return m.CountFingerprintsFunc()
	}
	return 0, nil
}
