package database

// FacadeInterface is the unified entry point for database operations,
// defined as an interface for unit testing and mocking
type FacadeInterface interface {
	// GetUser returns the User facade interface
	GetUser() UserFacadeInterface
	// GetTask returns the Task facade interface
	GetTask() TaskFacadeInterface
}

// Facade aggregates all sub-facades
type Facade struct {
	User UserFacadeInterface
	Task TaskFacadeInterface
}

// NewFacade creates a new Facade instance
func NewFacade() *Facade {
	return &Facade{
		User: NewUserFacade(),
		Task: NewTaskFacade(),
	}
}

// GetUser returns the User facade interface
func (f *Facade) GetUser() UserFacadeInterface {
	return f.User
}

// GetTask returns the Task facade interface
func (f *Facade) GetTask() TaskFacadeInterface {
	return f.Task
}

// Global default Facade instance
var defaultFacade FacadeInterface = NewFacade()

// GetFacade returns the default Facade instance
func GetFacade() FacadeInterface {
	return defaultFacade
}

// SetFacade swaps the default Facade, used by tests
func SetFacade(f FacadeInterface) {
	defaultFacade = f
}
